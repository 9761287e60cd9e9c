// cmd/version.go

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connector"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the connector version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), connector.Version)
	},
}
