package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Unit is one declarative routing entry: a match, an optional action and
// the listeners the match is served on.
type Unit struct {
	ID        string
	Match     Match
	Action    *Action
	Listeners []string
}

// IsZero reports whether the unit carries neither a condition nor an action.
func (u Unit) IsZero() bool {
	return u.Match.IsZero() && u.Action.IsZero()
}

// Validate checks the unit can be stored.
func (u Unit) Validate() error {
	if len(u.Listeners) == 0 {
		return fmt.Errorf("%w: no listeners", ErrInvalidUnit)
	}
	for _, l := range u.Listeners {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("%w: empty listener", ErrInvalidUnit)
		}
	}
	for _, h := range u.Match.Hosts {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("%w: empty host", ErrInvalidUnit)
		}
	}
	if _, ok := u.Match.Params[HostKey]; ok {
		return fmt.Errorf("%w: match %q belongs in hosts", ErrInvalidUnit, HostKey)
	}
	if u.Action.Depth() > MaxFallbackDepth+1 {
		return ErrFallbackTooDeep
	}
	return nil
}

// Apply stores the unit and links its hosts and listeners. Applying the
// same unit twice is a no-op. Zero units are skipped and return id 0.
func Apply(ctx context.Context, s Store, u Unit) (int64, error) {
	if u.IsZero() {
		return 0, nil
	}
	if err := u.Validate(); err != nil {
		return 0, err
	}

	var matchID int64
	err := inTx(ctx, s, func(ctx context.Context) error {
		var actionID int64
		if !u.Action.IsZero() {
			id, err := s.CreateAction(ctx, u.Action)
			if err != nil {
				return fmt.Errorf("create action: %w", err)
			}
			actionID = id
		}

		id, err := s.CreateMatch(ctx, u.Match.Params, actionID)
		if err != nil {
			return fmt.Errorf("create match: %w", err)
		}
		matchID = id

		for _, domain := range u.Match.Hosts {
			hostID, err := s.CreateHost(ctx, domain)
			if err != nil {
				return fmt.Errorf("create host %s: %w", domain, err)
			}
			if err := s.LinkHost(ctx, matchID, hostID); err != nil {
				return fmt.Errorf("link host %s: %w", domain, err)
			}
		}
		for _, socket := range u.Listeners {
			listenerID, err := s.CreateListener(ctx, socket)
			if err != nil {
				return fmt.Errorf("create listener %s: %w", socket, err)
			}
			if err := s.LinkListener(ctx, matchID, listenerID); err != nil {
				return fmt.Errorf("link listener %s: %w", socket, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return matchID, nil
}

// Remove withdraws a unit. A unit naming hosts unlinks only those hosts
// from its match, so sibling hosts keep their routes on every listener;
// the match is deleted once no host is left, so it never silently widens
// to all hosts. A host-less unit unlinks its listeners instead and deletes
// the match once none is left. Removing an unknown unit is a no-op.
func Remove(ctx context.Context, s Store, u Unit) error {
	if u.IsZero() {
		return nil
	}

	return inTx(ctx, s, func(ctx context.Context) error {
		var actionID int64
		if !u.Action.IsZero() {
			id, err := s.FindAction(ctx, u.Action)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("find action: %w", err)
			}
			actionID = id
		}

		matchID, err := s.FindMatch(ctx, u.Match.Params, actionID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find match: %w", err)
		}

		current, err := s.Fact(ctx, matchID)
		if err != nil {
			return fmt.Errorf("load match: %w", err)
		}

		if len(u.Match.Hosts) > 0 {
			if len(without(current.Match.Hosts, u.Match.Hosts)) == 0 {
				return s.DeleteMatch(ctx, matchID)
			}
			return unlinkHosts(ctx, s, matchID, u.Match.Hosts)
		}

		if len(without(current.Listeners, u.Listeners)) == 0 {
			return s.DeleteMatch(ctx, matchID)
		}
		return unlinkListeners(ctx, s, matchID, u.Listeners)
	})
}

func unlinkHosts(ctx context.Context, s Store, matchID int64, domains []string) error {
	for _, domain := range domains {
		hostID, err := s.FindHost(ctx, domain)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("find host %s: %w", domain, err)
		}
		if err := s.UnlinkHost(ctx, matchID, hostID); err != nil {
			return fmt.Errorf("unlink host %s: %w", domain, err)
		}
	}
	return nil
}

func unlinkListeners(ctx context.Context, s Store, matchID int64, sockets []string) error {
	for _, socket := range sockets {
		listenerID, err := s.FindListener(ctx, socket)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("find listener %s: %w", socket, err)
		}
		if err := s.UnlinkListener(ctx, matchID, listenerID); err != nil {
			return fmt.Errorf("unlink listener %s: %w", socket, err)
		}
	}
	return nil
}

// Snapshotter returns the fact snapshot. Every Store is one.
type Snapshotter interface {
	Facts(ctx context.Context) ([]Fact, error)
}

// UniqueHosts returns every host referenced by at least one fact, in first
// seen order.
func UniqueHosts(ctx context.Context, s Snapshotter) ([]string, error) {
	all, err := s.Facts(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var hosts []string
	for _, f := range all {
		for _, h := range f.Match.Hosts {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func without(from, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	var out []string
	for _, v := range from {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
