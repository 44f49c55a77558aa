package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/unitconf"
)

// Runtime reads and replaces the runtime configuration document.
type Runtime interface {
	Config(ctx context.Context) (unitconf.Config, error)
	SetConfig(ctx context.Context, cfg unitconf.Config) error
}

// FactSource returns the fact snapshot.
type FactSource interface {
	Facts(ctx context.Context) ([]facts.Fact, error)
}

// CertificateLister lists stored certificates.
type CertificateLister interface {
	List(ctx context.Context) (map[string]certstore.Info, error)
}

// Engine serializes every read-modify-write of the runtime document within
// this process and tracks in-flight challenges so that pushes keep them.
//
// Nothing coordinates separate processes: two of them can still overwrite
// each other's document.
type Engine struct {
	mu         sync.Mutex
	runtime    Runtime
	facts      FactSource
	certs      CertificateLister
	challenges *xsync.Map[string, Challenge]
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for certificate renewal checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine.
func NewEngine(rt Runtime, fs FactSource, certs CertificateLister, opts ...Option) *Engine {
	e := &Engine{
		runtime:    rt,
		facts:      fs,
		certs:      certs,
		challenges: xsync.NewMap[string, Challenge](),
		logger:     logger.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InFlight returns the registered challenges ordered by host and token.
func (e *Engine) InFlight() []Challenge {
	var out []Challenge
	e.challenges.Range(func(_ string, c Challenge) bool {
		out = append(out, c)
		return true
	})
	sortChallenges(out)
	return out
}

// Push replaces the routing part of the runtime document with the
// translation of the current facts. Top-level sections this package does
// not manage are carried over from the current document.
func (e *Engine) Push(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot, err := e.facts.Facts(ctx)
	if err != nil {
		return fmt.Errorf("load facts: %w", err)
	}
	certs, err := e.certs.List(ctx)
	if err != nil {
		return fmt.Errorf("list certificates: %w", err)
	}
	current, err := e.runtime.Config(ctx)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	inFlight := e.InFlight()
	next := Translate(snapshot, CertificateSet(certs), inFlight, e.now())
	next.Extra = current.Extra
	next = withChallenges(next, inFlight)

	if err := e.runtime.SetConfig(ctx, next); err != nil {
		return fmt.Errorf("push config: %w", err)
	}
	e.logger.InfoContext(ctx, "config pushed",
		logger.Component("reconcile"),
		logger.Count("facts", len(snapshot)),
		logger.Count("listeners", len(next.Listeners)),
		logger.Count("challenges", len(inFlight)),
	)
	return nil
}

// Apply merges chunk into the current document.
func (e *Engine) Apply(ctx context.Context, chunk unitconf.Config) error {
	return e.modify(ctx, "apply", func(cfg unitconf.Config) unitconf.Config {
		return withChallenges(unitconf.Merge(cfg, chunk), e.InFlight())
	})
}

// Retract removes chunk's routes from the current document.
func (e *Engine) Retract(ctx context.Context, chunk unitconf.Config) error {
	return e.modify(ctx, "retract", func(cfg unitconf.Config) unitconf.Config {
		return withChallenges(unitconf.Unmerge(cfg, chunk), e.InFlight())
	})
}

// DetachTLS withholds hosts from every listener's TLS bundle so their
// stored bundles can be removed or replaced. With no hosts every TLS
// section is dropped. The next Push attaches whatever certificates remain.
func (e *Engine) DetachTLS(ctx context.Context, hosts ...string) error {
	return e.modify(ctx, "detach tls", func(cfg unitconf.Config) unitconf.Config {
		out := cfg.Clone()
		for socket, l := range cfg.Listeners {
			if len(hosts) == 0 {
				l.TLS = nil
				out.Listeners[socket] = l
				continue
			}
			for _, h := range hosts {
				out = out.WithoutTLSHost(socket, h)
			}
		}
		return out
	})
}

// PushChallenge registers ch and installs its route at the head of every
// challenge listener's table. The host is withheld from those listeners'
// TLS bundles until the challenge is retracted. On failure the challenge is
// unregistered again.
func (e *Engine) PushChallenge(ctx context.Context, ch Challenge) error {
	e.challenges.Store(ch.id(), ch)
	err := e.modify(ctx, "push challenge", func(cfg unitconf.Config) unitconf.Config {
		return withChallenges(cfg, []Challenge{ch})
	})
	if err != nil {
		e.challenges.Delete(ch.id())
		return err
	}
	for _, socket := range ch.sockets() {
		e.logger.DebugContext(ctx, "challenge route installed",
			logger.Component("reconcile"), logger.Host(ch.Host), logger.Listener(socket), logger.Token(ch.Token))
	}
	return nil
}

// RetractChallenge unregisters ch and removes its route.
func (e *Engine) RetractChallenge(ctx context.Context, ch Challenge) error {
	e.challenges.Delete(ch.id())
	err := e.modify(ctx, "retract challenge", func(cfg unitconf.Config) unitconf.Config {
		for _, socket := range ch.sockets() {
			cfg = unitconf.RemovePriorityRoute(cfg, unitconf.TableFor(socket), ch.Route())
		}
		return cfg
	})
	if err != nil {
		return err
	}
	for _, socket := range ch.sockets() {
		e.logger.DebugContext(ctx, "challenge route removed",
			logger.Component("reconcile"), logger.Host(ch.Host), logger.Listener(socket))
	}
	return nil
}

func (e *Engine) modify(ctx context.Context, op string, fn func(unitconf.Config) unitconf.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.runtime.Config(ctx)
	if err != nil {
		return fmt.Errorf("%s: read config: %w", op, err)
	}
	if err := e.runtime.SetConfig(ctx, fn(current)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
