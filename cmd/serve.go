// cmd/serve.go

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/cli"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/config"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connector"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connector against the OpenCTI platform",
	Args:  cobra.NoArgs,
	RunE: cli.Wrap(func(rc *cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") {
			logger.Initialize(cfg.Connector.LogLevel)
			rc.Log = logger.L()
		}

		m, registry := metrics.New()
		conn, err := connector.New(rc.Ctx, cfg, m, rc.Log)
		if err != nil {
			return err
		}
		defer conn.Close()

		if cfg.Connector.MetricsAddr != "" {
			go func() {
				if err := metrics.Serve(rc.Ctx, cfg.Connector.MetricsAddr, registry, rc.Log); err != nil {
					rc.Log.Error("Metrics server failed", zap.Error(err))
				}
			}()
		}

		rc.Log.Info("Starting connector",
			zap.String("version", connector.Version),
			zap.String("name", cfg.Connector.Name))
		return conn.Serve(rc.Ctx)
	}),
}
