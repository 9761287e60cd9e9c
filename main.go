// main.go

package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/cmd"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/logger"
)

func main() {
	// A .env file is a development convenience; in deployments the
	// environment comes from the container runtime.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		logger.L().Error("Command failed: " + err.Error())
		logger.Sync()
		os.Exit(1)
	}
}
