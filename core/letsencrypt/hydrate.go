package letsencrypt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/pkg/async"
)

// Outcome is what Hydrate did for one host.
type Outcome string

const (
	OutcomeIssued  Outcome = "issued"
	OutcomeRenewed Outcome = "renewed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// HostResult is the outcome for one host. Err is set for OutcomeFailed.
type HostResult struct {
	Host    string
	Outcome Outcome
	Err     error
}

// Report collects per-host results in fact store order.
type Report struct {
	Results []HostResult
}

// Count returns the number of hosts with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Err joins the failures of every host, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Host, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Hydrate makes sure every host in the fact store has a certificate that
// is not about to expire. Hosts are processed concurrently, bounded by the
// configured concurrency, and one host failing does not stop the others.
// Once every host settled the engine pushes the facts once so listeners
// pick up the new bundles. The returned error only reports failures to
// list hosts or to push; per-host failures are in the report.
func (m *Manager) Hydrate(ctx context.Context) (Report, error) {
	start := time.Now()

	hosts, err := facts.UniqueHosts(ctx, m.facts)
	if err != nil {
		return Report{}, fmt.Errorf("list hosts: %w", err)
	}

	sem := semaphore.NewWeighted(int64(m.concurrency))
	futures := make([]*async.Future[HostResult], 0, len(hosts))
	for _, host := range hosts {
		futures = append(futures, async.Async(ctx, host, func(ctx context.Context, host string) (HostResult, error) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return HostResult{Host: host, Outcome: OutcomeFailed, Err: err}, nil
			}
			defer sem.Release(1)
			return m.hydrateHost(ctx, host), nil
		}))
	}

	report := Report{Results: make([]HostResult, len(hosts))}
	for i, f := range futures {
		res, err := f.Await()
		if err != nil {
			res = HostResult{Host: hosts[i], Outcome: OutcomeFailed, Err: err}
		}
		report.Results[i] = res
		m.logger.DebugContext(ctx, "host hydrated",
			logger.Component("letsencrypt"), logger.Host(res.Host), logger.Result(string(res.Outcome)))
	}

	if err := m.engine.Push(ctx); err != nil {
		return report, fmt.Errorf("push config: %w", err)
	}

	m.logger.InfoContext(ctx, "hydrate finished",
		logger.Component("letsencrypt"),
		logger.Count("hosts", len(hosts)),
		logger.Count("issued", report.Count(OutcomeIssued)),
		logger.Count("renewed", report.Count(OutcomeRenewed)),
		logger.Count("skipped", report.Count(OutcomeSkipped)),
		logger.Count("failed", report.Count(OutcomeFailed)),
		logger.Elapsed(start),
	)
	return report, nil
}

func (m *Manager) hydrateHost(ctx context.Context, host string) HostResult {
	outcome := OutcomeIssued
	info, err := m.certs.Info(ctx, host)
	switch {
	case errors.Is(err, certstore.ErrNotFound):
	case err != nil:
		return HostResult{Host: host, Outcome: OutcomeFailed, Err: err}
	case !m.ShouldRenew(info):
		return HostResult{Host: host, Outcome: OutcomeSkipped}
	default:
		outcome = OutcomeRenewed
	}

	if _, err := m.RequestCertificate(ctx, host); err != nil {
		m.logger.WarnContext(ctx, "certificate request failed",
			logger.Component("letsencrypt"), logger.Host(host), logger.Error(err))
		return HostResult{Host: host, Outcome: OutcomeFailed, Err: err}
	}
	return HostResult{Host: host, Outcome: outcome}
}

// Watch hydrates immediately and then on the configured schedule until ctx
// is cancelled. A run still going when the next one is due is not
// overlapped. Watch returns once the running hydrate, if any, has finished.
func (m *Manager) Watch(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{m.logger})))
	if _, err := c.AddFunc(m.schedule, func() { m.hydrateOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", m.schedule, err)
	}

	m.hydrateOnce(ctx)
	c.Start()
	m.logger.InfoContext(ctx, "watching certificates",
		logger.Component("letsencrypt"), logger.Key("schedule", m.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (m *Manager) hydrateOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := m.Hydrate(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "hydrate failed", logger.Component("letsencrypt"), logger.Error(err))
		return
	}
	if err := report.Err(); err != nil {
		m.logger.WarnContext(ctx, "some certificates were not issued", logger.Component("letsencrypt"), logger.Error(err))
	}
}

// Clean removes every stored certificate and pushes the facts again, so
// listeners end up without TLS until the next hydrate.
func (m *Manager) Clean(ctx context.Context) error {
	stored, err := m.certs.List(ctx)
	if err != nil {
		return fmt.Errorf("list certificates: %w", err)
	}
	if err := m.engine.DetachTLS(ctx); err != nil {
		return err
	}

	names := make([]string, 0, len(stored))
	for name := range stored {
		names = append(names, name)
	}
	slices.Sort(names)

	futures := make([]*async.ExecFuture, 0, len(names))
	for _, name := range names {
		futures = append(futures, async.Exec(ctx, name, func(ctx context.Context, name string) error {
			if err := m.certs.Remove(ctx, name); err != nil && !errors.Is(err, certstore.ErrNotFound) {
				return err
			}
			return nil
		}))
	}
	removeErr := async.ExecAll(futures...)

	if err := m.engine.Push(ctx); err != nil {
		return errors.Join(removeErr, fmt.Errorf("push config: %w", err))
	}
	m.logger.InfoContext(ctx, "certificates cleaned",
		logger.Component("letsencrypt"), logger.Count("certificates", len(names)))
	return removeErr
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, append([]any{logger.Component("cron")}, keysAndValues...)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{logger.Component("cron"), logger.Error(err)}, keysAndValues...)...)
}
