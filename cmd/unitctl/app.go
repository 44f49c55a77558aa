package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/config"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/health"
	"github.com/dmitrymomot/unitctl/core/letsencrypt"
	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/reconcile"
	"github.com/dmitrymomot/unitctl/core/runtime"
	"github.com/dmitrymomot/unitctl/integration/database/pg"
	"github.com/dmitrymomot/unitctl/integration/database/redis"
	"github.com/dmitrymomot/unitctl/integration/database/sqlite"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     Config
	log     *slog.Logger
	runtime *runtime.Client
	certs   *certstore.Client
	store   facts.Store
	engine  *reconcile.Engine
	checks  []health.Checker
	closers []func() error
}

// newLogger writes to w so command output on stdout stays parseable.
func newLogger(cfg Config, w io.Writer) *slog.Logger {
	env := logger.WithProduction("unitctl")
	if cfg.Env == "development" {
		env = logger.WithDevelopment("unitctl")
	}
	return logger.New(env, logger.WithLevel(cfg.LogLevel), logger.WithOutput(w))
}

func newApp(ctx context.Context, cfg Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	rt, err := runtime.New(cfg.ControlURL, runtime.WithLogger(log), runtime.WithTimeout(cfg.ControlTimeout))
	if err != nil {
		return nil, err
	}
	a.runtime = rt
	a.checks = append(a.checks, health.Check("runtime", func(ctx context.Context) error {
		_, err := rt.Config(ctx)
		return err
	}))

	certs, err := certstore.New(rt, certstore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a.certs = certs
	a.closers = append(a.closers, func() error { certs.Close(); return nil })

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.engine = reconcile.NewEngine(rt, a.store, certs, reconcile.WithLogger(log))
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.FactStore {
	case storeMemory:
		a.store = facts.NewMemoryStore()

	case storeSQLite:
		s, err := facts.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite fact store: %w", err)
		}
		a.store = s
		a.checks = append(a.checks, health.Check("sqlite", sqlite.Healthcheck(s.DB())))
		a.closers = append(a.closers, s.Close)

	case storePostgres:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		s, err := facts.NewPostgresStore(ctx, pool, a.log)
		if err != nil {
			pool.Close()
			return fmt.Errorf("open postgres fact store: %w", err)
		}
		a.store = s
		a.checks = append(a.checks, health.Check("postgres", pg.Healthcheck(pool)))
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

	default:
		return fmt.Errorf("unknown fact store %q", a.cfg.FactStore)
	}
	return nil
}

// manager builds the certificate manager. The ACME account key lives in
// Redis when REDIS_URL is set, in a file otherwise.
func (a *app) manager(ctx context.Context) (*letsencrypt.Manager, error) {
	acmeCfg := a.cfg.ACME
	if !acmeCfg.Enabled() {
		return nil, errACMEDisabled
	}

	opts := []letsencrypt.ManagerOption{
		letsencrypt.WithLogger(a.log),
		letsencrypt.WithChallengeListeners(acmeCfg.Listeners...),
		letsencrypt.WithPollConfig(acmeCfg.PollInterval, acmeCfg.PollAttempts),
		letsencrypt.WithConcurrency(acmeCfg.Concurrency),
		letsencrypt.WithSchedule(acmeCfg.Schedule),
	}
	if a.cfg.Redis.ConnectionURL != "" {
		client, err := redis.Connect(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.checks = append(a.checks, health.Check("redis", redis.Healthcheck(client)))
		opts = append(opts, letsencrypt.WithAccountKeyStore(letsencrypt.NewRedisKeyStore(client, "")))
	}

	return letsencrypt.NewManager(letsencrypt.Config{
		Email:          acmeCfg.Email,
		DirectoryURL:   acmeCfg.DirectoryURL,
		ChallengeDir:   acmeCfg.ChallengeDir,
		AccountKeyFile: acmeCfg.AccountKey,
		CARootsFile:    acmeCfg.CARoots,
	}, a.engine, a.certs, a.store, opts...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
