package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sentineld",
	Short: "Continuous integrity monitoring and threat escalation",
	Long:  "Periodically recomputes cryptographic digests of critical resources,\ncompares them against a known-good baseline, and escalates detected\ntampering through webhooks and a tamper-evident audit trail.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config YAML")
}

func defaultConfigPath() string {
	if p := os.Getenv("SENTINELD_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return home + "/.sentineld/config.yaml"
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
