// cmd/root.go

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/logger"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "wazuh-opencti",
	Short:         "OpenCTI enrichment connector for Wazuh",
	Long:          "Enriches OpenCTI observables and vulnerabilities with sightings from Wazuh alerts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.InitializeWithFallback(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
