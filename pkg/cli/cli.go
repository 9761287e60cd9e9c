// pkg/cli/cli.go

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/logger"
)

// RuntimeContext carries the per-invocation state every command needs.
type RuntimeContext struct {
	Ctx context.Context
	Log *zap.Logger
}

// Wrap adapts a command function to cobra's RunE, providing a runtime
// context whose context is canceled on SIGINT/SIGTERM.
func Wrap(fn func(rc *RuntimeContext, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rc := &RuntimeContext{
			Ctx: ctx,
			Log: logger.L(),
		}
		defer logger.Sync()
		return fn(rc, cmd, args)
	}
}
