package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/telemetry"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Commit queued records from the redis stream",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd.Context())
	},
}

func runWorker(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Queue.Driver != config.QueueRedis {
		return fmt.Errorf("worker needs AUDITCHAIN_QUEUE=redis, got %q", cfg.Queue.Driver)
	}

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

	log.Info().
		Str("stream", cfg.Queue.Stream).
		Str("group", cfg.Queue.Group).
		Str("consumer", cfg.Queue.Consumer).
		Msg("worker ready")

	return a.newWorker().Run(ctx)
}
