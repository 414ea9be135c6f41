package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/factorrun/internal/config"
)

const (
	appName = "FactorRun"
	version = "v0.4.0"
)

var (
	configPath string
	jsonLogs   bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:     "factorrun",
	Short:   "Multi-factor return attribution for a market index",
	Version: version,
	Long: `FactorRun fits an OLS model of daily index returns on macro and market
factors, splits each day's predicted return into per-factor contributions,
and ranks the factors by average absolute impact.

Examples:
  factorrun align --index data/index_returns.csv --factors data/factors.csv
  factorrun attribute --data data/aligned_data.csv --out outputs
  factorrun serve --port 8090`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Force JSON log output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("factorrun failed")
		os.Exit(1)
	}
}

// setupLogging writes human-readable logs on a terminal and JSON otherwise
func setupLogging() error {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if jsonLogs || !term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// loadConfig reads --config, then lets explicitly set flags override it
func loadConfig(flags *pflag.FlagSet, override func(cfg *config.AppConfig, f *pflag.Flag)) (*config.AppConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags.Visit(func(f *pflag.Flag) {
		override(cfg, f)
	})

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}
