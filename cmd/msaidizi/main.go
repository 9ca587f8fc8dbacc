// Msaidizi — support-agent provisioning service for the DigitalOcean
// Gradient AI platform.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "msaidizi",
	Short: "Msaidizi — one provisioned support agent per website, shared across sessions.",
	Long: `Msaidizi provisions AI support agents on the DigitalOcean Gradient AI
platform: one agent per website, backed by a crawled knowledge base, created
lazily on first use and reconciled against the platform's asynchronous
deployment lifecycle. Records survive restarts; a background sweep resumes
agents stranded mid-deployment.`,
	RunE:          runServer, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serverCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
