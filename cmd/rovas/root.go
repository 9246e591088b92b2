package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rovas",
	Short: "rovas - Track editing time and report it to Rovas",
	Long: `rovas tracks the time spent editing, folds bursts of activity into worked
minutes, and files them as work reports with the Rovas value-exchange platform,
paying the connector's usage fee in the same submission.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the interactive session when no subcommand is provided
		return runInteractive(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/rovas/config.yaml", "Path to configuration file (interactive sessions default to the user config directory)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
