package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/unitctl/core/config"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/logger"
	"github.com/dmitrymomot/unitctl/core/server"
	"github.com/dmitrymomot/unitctl/core/unitfile"
)

const usage = `usage: unitctl <command> [flags]

commands:
  serve            run the admin API and renew certificates on a schedule
  hydrate          issue or renew certificates for every host, then push
  push             translate the fact store and replace the runtime routes
  config           print the runtime's live configuration
  apply FILE...    record units from TOML or YAML files, then push
  remove FILE...   forget units from TOML or YAML files, then push
  certificates     list stored certificates, splitting off those due for renewal
  clean            remove every stored certificate and push
`

var errUsage = errors.New("invalid usage")

type command func(ctx context.Context, a *app, args []string, stdout io.Writer) error

var commands = map[string]command{
	"serve":   cmdServe,
	"hydrate": cmdHydrate,
	"push":    cmdPush,
	"config":  cmdConfig,
	"apply":   cmdApply,
	"remove":  cmdRemove,
	"clean":   cmdClean,

	"certificates": cmdCertificates,
}

// run dispatches one command. Logs go to stderr, results to stdout.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = io.WriteString(stderr, usage)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = io.WriteString(stderr, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	log := newLogger(cfg, stderr)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Failed to release resources", logger.Error(err))
		}
	}()

	return cmd(ctx, a, args[1:], stdout)
}

func cmdServe(ctx context.Context, a *app, _ []string, _ io.Writer) error {
	srv, err := server.NewFromConfig(a.cfg.Admin, server.WithLogger(a.log))
	if err != nil {
		return err
	}

	deps := adminDeps{log: a.log, pusher: a.engine, runtime: a.runtime}

	g, ctx := errgroup.WithContext(ctx)
	mgr, err := a.manager(ctx)
	switch {
	case err == nil:
		deps.hydrator = mgr
		g.Go(func() error { return mgr.Watch(ctx) })
	case errors.Is(err, errACMEDisabled):
		a.log.Warn("Certificate management disabled", logger.Error(err))
		if err := a.engine.Push(ctx); err != nil {
			return err
		}
	default:
		return err
	}
	deps.checks = a.checks

	g.Go(srv.Run(ctx, newAdminRouter(deps)))
	return g.Wait()
}

func cmdHydrate(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	mgr, err := a.manager(ctx)
	if err != nil {
		return err
	}
	report, err := mgr.Hydrate(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(stdout, newReportView(report)); err != nil {
		return err
	}
	return report.Err()
}

func cmdPush(ctx context.Context, a *app, _ []string, _ io.Writer) error {
	return a.engine.Push(ctx)
}

func cmdConfig(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	cfg, err := a.runtime.Config(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, cfg)
}

type expiringView struct {
	Name    string    `json:"name"`
	Until   time.Time `json:"until"`
	Expired bool      `json:"expired"`
}

type certificatesView struct {
	Valid    []string       `json:"valid"`
	Expiring []expiringView `json:"expiring"`
}

func cmdCertificates(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	now := time.Now()
	valid, expiring, err := a.certs.Partition(ctx, now)
	if err != nil {
		return err
	}

	view := certificatesView{Valid: valid, Expiring: make([]expiringView, 0, len(expiring))}
	if view.Valid == nil {
		view.Valid = []string{}
	}
	for _, name := range expiring {
		info, err := a.certs.Info(ctx, name)
		if err != nil {
			return err
		}
		view.Expiring = append(view.Expiring, expiringView{
			Name:    name,
			Until:   info.Validity.Until,
			Expired: info.Expired(now),
		})
	}
	return printJSON(stdout, view)
}

func cmdClean(ctx context.Context, a *app, _ []string, _ io.Writer) error {
	mgr, err := a.manager(ctx)
	if err != nil {
		return err
	}
	return mgr.Clean(ctx)
}

func cmdApply(ctx context.Context, a *app, args []string, _ io.Writer) error {
	return changeUnits(ctx, a, "apply", args, true)
}

func cmdRemove(ctx context.Context, a *app, args []string, _ io.Writer) error {
	return changeUnits(ctx, a, "remove", args, false)
}

// changeUnits records or forgets the units of each file and pushes once.
// With -merge the files' routes are merged into (or retracted from) the
// live document instead, leaving the fact store untouched.
func changeUnits(ctx context.Context, a *app, name string, args []string, apply bool) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	merge := fs.Bool("merge", false, "merge routes into the live configuration without recording facts")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: %s needs at least one file", errUsage, name)
	}

	for _, path := range fs.Args() {
		f, err := unitfile.Load(path)
		if err != nil {
			return err
		}

		if *merge {
			chunk, err := f.Config()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if apply {
				err = a.engine.Apply(ctx, chunk)
			} else {
				err = a.engine.Retract(ctx, chunk)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			continue
		}

		units, err := f.Units()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, u := range units {
			if apply {
				_, err = facts.Apply(ctx, a.store, u)
			} else {
				err = facts.Remove(ctx, a.store, u)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			a.log.Debug("Unit recorded", logger.Unit(u.ID), logger.Key("op", name))
		}
		a.log.Info("Units recorded", logger.Key("file", path), logger.Count("units", len(units)), logger.Key("op", name))
	}

	if *merge {
		return nil
	}
	return a.engine.Push(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
