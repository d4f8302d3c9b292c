package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/server"
	"github.com/gosuda/auditchain/internal/telemetry"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. With the memory queue an in-process worker commits
asynchronous records; with the redis queue run 'auditchain worker' separately
or pass --with-worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Also drain the async queue in this process")
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireJWT(); err != nil {
		return err
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	a, err := openApp(ctx, cfg, appOptions{queue: true, policy: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup

	if a.queue != nil && (cfg.Queue.Driver == config.QueueMemory || serveWithWorker) {
		worker := a.newWorker()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = worker.Run(ctx)
		}()
	}

	if cfg.Retention.PurgeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			purgeLoop(ctx, a, cfg.Retention.PurgeInterval)
		}()
	}

	srv := server.New(ctx, cfg, server.Deps{
		Logger:    a.engine,
		Verifier:  a.verifier,
		Sequences: a.engine.Sequencer(),
		Retention: a.retention,
		Health:    a.health,
	}, component("http"))

	// Start server in background goroutine.
	go func() {
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}
	wg.Wait()

	log.Info().Msg("stopped")
	return nil
}

// purgeLoop runs a retention purge every interval until ctx is done.
func purgeLoop(ctx context.Context, a *app, interval time.Duration) {
	logger := component("purge-loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := a.retention.Purge(ctx, time.Time{}, a.cfg.Retention.PurgeBatchSize)
			if err != nil {
				logger.Error().Err(err).Int64("deleted", deleted).Msg("scheduled purge failed")
				continue
			}
			logger.Info().Int64("deleted", deleted).Msg("scheduled purge finished")
		case <-ctx.Done():
			return
		}
	}
}

func flushTracing(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("trace flush failed")
	}
}
