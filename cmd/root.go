package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tarunvoff/apiris-sdk/pipeline"
)

var (
	logLevel   string // Log verbosity level
	configPath string // Optional YAML config file
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "apiris",
	Short: "Advisory decision pipeline for outbound HTTP calls",
	Long: "apiris scores outbound HTTP calls with a latency predictor, an anomaly\n" +
		"detector and a cost/latency trade-off optimizer. It is advisory only:\n" +
		"it recommends, it never blocks.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// loadConfig returns the configured pipeline config, or defaults when no
// file was given.
func loadConfig() (*pipeline.Config, error) {
	if configPath == "" {
		return pipeline.DefaultConfig(), nil
	}
	return pipeline.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
