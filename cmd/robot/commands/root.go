// Package commands implements the robot CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	rulesPath string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "robot",
	Short: "Indicator and threshold-signal robot",
	Long: `Robot keeps per-instrument bar series, derives SMA, EMA and RSI
columns, and raises BUY/SELL signals when an indicator's latest value
crosses its configured thresholds.

Examples:
  robot serve --rules rules.yaml
  robot replay --history msft.json --rules rules.yaml`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "YAML rule set (indicators and thresholds)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug|info|warn|error)")
}
