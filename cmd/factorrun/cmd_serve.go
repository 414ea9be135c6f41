package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/factorrun/internal/attribution"
	"github.com/sawpanic/factorrun/internal/cache"
	"github.com/sawpanic/factorrun/internal/config"
	"github.com/sawpanic/factorrun/internal/infrastructure/db"
	httpapi "github.com/sawpanic/factorrun/internal/interfaces/http"
	"github.com/sawpanic/factorrun/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve attribution over HTTP",
	Long: `Start the HTTP server:

  GET  /health
  GET  /metrics
  POST /v1/attribution   (aligned CSV body)
  GET  /v1/runs          (needs database)
  GET  /v1/runs/{id}     (needs database)`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 8090, "Listen port")
}

func serveOverrides(cfg *config.AppConfig, f *pflag.Flag) {
	switch f.Name {
	case "host":
		cfg.HTTP.Host = serveHost
	case "port":
		cfg.HTTP.Port = servePort
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), serveOverrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()
	deps := httpapi.Deps{
		Engine:  attribution.NewEngine(cfg.EngineOptions(), registry),
		Cache:   cache.New(cfg.Cache),
		Metrics: registry,
	}

	manager, err := db.NewManager(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("Run persistence unavailable, serving without it")
	} else {
		defer manager.Close()
		deps.Runs = manager.Runs()
	}

	server := httpapi.NewServer(cfg.HTTP, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	prune := time.NewTicker(5 * time.Minute)
	defer prune.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-prune.C:
			if n := server.PruneLimiter(10 * time.Minute); n > 0 {
				log.Debug().Int("clients", n).Msg("Pruned idle rate limiters")
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	}
}
