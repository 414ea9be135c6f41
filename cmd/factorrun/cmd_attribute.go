package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/factorrun/internal/attribution"
	"github.com/sawpanic/factorrun/internal/config"
	"github.com/sawpanic/factorrun/internal/dataset"
	"github.com/sawpanic/factorrun/internal/infrastructure/db"
	"github.com/sawpanic/factorrun/internal/metrics"
	"github.com/sawpanic/factorrun/internal/persistence"
	"github.com/sawpanic/factorrun/internal/report"
)

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Fit the factor model and write attribution artifacts",
	Long: `Fit index returns on the configured factors, decompose every day's
prediction into per-factor contributions and write:

  <out>/regression_coefficients.csv
  <out>/factor_contributions.json
  <out>/summary_report.txt

The three files are published together; a failed run leaves previous output untouched.`,
	RunE: runAttribute,
}

var (
	attributeData      string
	attributeOut       string
	attributeTopK      int
	attributeNoCompare bool
	attributePersist   bool
	attributeAnyFactor bool
)

func init() {
	rootCmd.AddCommand(attributeCmd)

	attributeCmd.Flags().StringVar(&attributeData, "data", "data/aligned_data.csv", "Aligned Date,Returns,<factors> CSV")
	attributeCmd.Flags().StringVar(&attributeOut, "out", "outputs", "Artifact directory")
	attributeCmd.Flags().IntVar(&attributeTopK, "top-k", 3, "Number of factors in the summary")
	attributeCmd.Flags().BoolVar(&attributeNoCompare, "no-compare", false, "Skip the ridge/lasso comparison")
	attributeCmd.Flags().BoolVar(&attributePersist, "persist", false, "Save the run to PostgreSQL (needs database.dsn)")
	attributeCmd.Flags().BoolVar(&attributeAnyFactor, "any-factors", false, "Accept whatever factor columns the file has")
}

func attributeOverrides(cfg *config.AppConfig, f *pflag.Flag) {
	switch f.Name {
	case "out":
		cfg.Output.Dir = attributeOut
	case "top-k":
		cfg.TopK = attributeTopK
	case "no-compare":
		cfg.Comparator.Enabled = !attributeNoCompare
	case "persist":
		cfg.Database.Enabled = attributePersist
	case "any-factors":
		if attributeAnyFactor {
			cfg.Factors = nil
		}
	}
}

func runAttribute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), attributeOverrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, err := dataset.NewCSVReader().LoadAligned(attributeData)
	if err != nil {
		return fmt.Errorf("load %s: %w", attributeData, err)
	}
	log.Info().Str("path", attributeData).Int("rows", ds.Len()).Strs("factors", ds.Factors).Msg("Dataset loaded")

	registry := metrics.NewRegistry()
	res, err := attribution.NewEngine(cfg.EngineOptions(), registry).Run(ctx, ds)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := report.WriteDiagnostics(out, res.Model); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := report.WriteSummary(out, res.Summary); err != nil {
		return err
	}

	layout := report.Layout{
		Dir:           cfg.Output.Dir,
		Coefficients:  cfg.Output.Coefficients,
		Contributions: cfg.Output.Contributions,
		Summary:       cfg.Output.Summary,
	}
	if err := report.WriteArtifacts(layout, res); err != nil {
		return err
	}

	if cfg.Database.Enabled {
		persistRun(ctx, cfg.Database, res)
	}

	log.Info().
		Str("run_id", res.RunID).
		Float64("r2", metrics.GaugeValue(registry.RSquared)).
		Dur("elapsed", res.Elapsed).
		Msg("Attribution finished")
	return nil
}

// persistRun saves the run; failures are logged and never fail the command
func persistRun(ctx context.Context, cfg config.DatabaseConfig, res *attribution.Result) {
	manager, err := db.NewManager(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Run persistence unavailable")
		return
	}
	defer manager.Close()

	if err := manager.Runs().Save(ctx, persistence.NewRecord(res)); err != nil {
		log.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to persist attribution run")
		return
	}
	log.Info().Str("run_id", res.RunID).Msg("Run persisted")
}
