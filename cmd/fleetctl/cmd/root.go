package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl manages a fleetforge Firecracker fleet from the command line",
	Long: `fleetctl is a command-line client for the fleetforge Manager API.

It creates and controls VMs, manages images, volumes, networks and
templates, and inspects the hosts backing the fleet.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("FLEETFORGE_API_URL", "http://localhost:8080"), "fleetforge Manager API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("FLEETFORGE_API_KEY"), "fleetforge Manager API key")

	rootCmd.AddCommand(vmCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func checkAPIKey() error {
	if apiKey == "" {
		return fmt.Errorf("API key is required. Set FLEETFORGE_API_KEY environment variable or use --api-key flag")
	}
	return nil
}
