package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Proactive monitoring and automated remediation",
	Long: `sentinel samples health checks on a fixed interval, routes the resulting
alerts to notification channels with per-source suppression and turns
actionable alerts into remediation actions.

Examples:
  sentinel run --config sentinel.yaml
  sentinel status --addr http://127.0.0.1:8080
  sentinel version`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "sentinel.yaml", "path to config file")
}
