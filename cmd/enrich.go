// cmd/enrich.go

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/config"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connector"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/metrics"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <entity-id>",
	Short: "Enrich a single entity and print the resulting bundle",
	Long: "Runs one enrichment outside the platform's queue and prints the " +
		"STIX bundle to stdout. Useful for trying out search settings.",
	Args: cobra.ExactArgs(1),
	RunE: cli.Wrap(func(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		m, _ := metrics.New()
		conn, err := connector.New(rc.Ctx, cfg, m, rc.Log)
		if err != nil {
			return err
		}
		defer conn.Close()

		bundle, outcome, err := conn.BuildBundle(rc.Ctx, args[0])
		if err != nil {
			return err
		}
		if bundle == nil {
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		}
		payload, err := bundle.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return nil
	}),
}
