package main

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/audit"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/domain"
	"github.com/gosuda/auditchain/internal/retention"
	"github.com/gosuda/auditchain/internal/signing"
	"github.com/gosuda/auditchain/internal/store/memory"
	"github.com/gosuda/auditchain/internal/store/postgres"
	redisstore "github.com/gosuda/auditchain/internal/store/redis"
	"github.com/gosuda/auditchain/internal/store/sqlite"
)

// app holds the services one command needs. Close releases them in
// reverse order of acquisition.
type app struct {
	cfg       *config.Config
	repo      domain.AuditRepository
	health    func(context.Context) error
	queue     audit.Queue
	engine    *audit.Engine
	verifier  *audit.Verifier
	retention *retention.Manager
	closers   []func()
}

type appOptions struct {
	// queue connects the configured async queue.
	queue bool
	// policy loads and watches the retention policy file.
	policy bool
}

func openApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var (
		engineOpts   = []audit.Option{audit.WithLogger(component("engine")), audit.WithDefaultRetention(cfg.Retention.DefaultDays)}
		verifierOpts = []audit.VerifierOption{audit.WithVerifierLogger(component("verifier")), audit.WithPageSize(cfg.Verify.PageSize)}
	)

	if len(cfg.Signing.Keys) > 0 {
		keys, err := signing.Parse([]byte(cfg.Signing.Secret), cfg.Signing.Keys)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("signing keys: %w", err)
		}
		engineOpts = append(engineOpts, audit.WithSigner(keys))
		verifierOpts = append(verifierOpts, audit.WithVerifierSigner(keys))
		log.Info().Strs("keys", keys.KeyIDs()).Msg("record signing enabled")
	}

	if opts.policy && cfg.Retention.PolicyFile != "" {
		watcher, err := retention.NewWatcher(cfg.Retention.PolicyFile, component("retention-policy"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("retention policy: %w", err)
		}
		a.closers = append(a.closers, func() { _ = watcher.Close() })
		engineOpts = append(engineOpts, audit.WithRetention(watcher))
	}

	if opts.queue {
		if err := a.openQueue(ctx); err != nil {
			a.Close()
			return nil, err
		}
		if a.queue != nil {
			engineOpts = append(engineOpts, audit.WithQueue(a.queue))
		}
	}

	a.engine = audit.NewEngine(a.repo, engineOpts...)
	a.verifier = audit.NewVerifier(a.repo, verifierOpts...)
	a.retention = retention.NewManager(a.repo, retention.WithLogger(component("retention")))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Store.Driver {
	case config.StorePostgres:
		if cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			return err
		}
		a.repo, a.health = store.Audit(), store.Ping
		a.closers = append(a.closers, store.Close)
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.repo, a.health = store, store.Ping
		a.closers = append(a.closers, func() { _ = store.Close() })
	case config.StoreMemory:
		log.Warn().Msg("memory store selected; records are lost on exit")
		a.repo = memory.New()
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	log.Info().Str("driver", cfg.Store.Driver).Msg("audit store opened")
	return nil
}

func (a *app) openQueue(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Queue.Driver {
	case config.QueueRedis:
		q, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Queue.Stream,
			Group:    cfg.Queue.Group,
			Consumer: cfg.Queue.Consumer,
			Block:    cfg.Queue.Block,
			MinIdle:  cfg.Queue.MinIdle,
		}, component("queue"))
		if err != nil {
			return err
		}
		a.queue = q
		a.closers = append(a.closers, func() { _ = q.Close() })
	case config.QueueMemory:
		q := audit.NewChannelQueue(cfg.Queue.Size)
		q.SetRetryBackoff(cfg.Queue.RetryBackoff)
		a.queue = q
	case config.QueueNone:
	}
	return nil
}

// newWorker builds a worker draining the app's queue.
func (a *app) newWorker() *audit.Worker {
	w := audit.NewWorker(a.queue, a.engine, component("worker"))
	w.SetMaxAttempts(a.cfg.Queue.MaxAttempts)
	return w
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
