package cmd

import (
	"github.com/rs/zerolog"
	"github.com/rustyeddy/arbiter/config"
	"github.com/rustyeddy/arbiter/internal/util"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Decision and risk engine for event-driven binary market arbitrage",
	Long: `Arbiter turns real-world signals into risk-gated order intents against
binary prediction markets.

It provides tools for:
  - Running the engine against an opportunity snapshot and a signal feed
  - Replaying scripted scenarios through the simulated executor
  - Generating and validating configuration
  - Querying the decision journal
  - Inspecting and resetting the kill switch`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before ARBITER_* variables are applied")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.Log.Console {
		return util.NewConsoleLogger(cfg.Log.Level)
	}
	return util.NewLogger(cfg.Log.Level)
}
