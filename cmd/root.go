// Package cmd implements the pricewatch command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"price-aggregator/config"
	"price-aggregator/utils"
)

var (
	cfg    *config.Config
	logger = utils.NewLogger()
)

var rootCmd = &cobra.Command{
	Use:   "pricewatch",
	Short: "Aggregate, cache and score marketplace prices",
	Long: `pricewatch queries every registered marketplace for an item, converts
the quotes to USD, picks the cheapest listing and the best deal, and caches
the combined report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if err := logger.Configure(loaded.LogLevel, loaded.LogFormat, loaded.LogOutput, loaded.LogMaxAgeDays); err != nil {
			return err
		}
		if !loaded.DotEnvLoaded {
			logger.Debug("[config] No .env file found, falling back to system env vars")
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
