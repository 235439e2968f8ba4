package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "foreman",
		Short:   "Foreman - issue-tracker automation for coding agents",
		Long:    `Foreman watches an issue tracker, matches configured trigger rules against label and comment events, and drives coding-agent sessions to resolve them.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to the Foreman config file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newRulesCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("FOREMAN_CONFIG"); path != "" {
		return path
	}
	return "foreman.yaml"
}
