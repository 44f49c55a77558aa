package facts

import (
	"context"

	"github.com/dmitrymomot/unitctl/pkg/params"
)

// Fact is one stored match together with its action and relations.
type Fact struct {
	ID        int64
	Match     Match
	Action    *Action
	Listeners []string
}

// ListenerMatch is one row of the listener to match relation.
type ListenerMatch struct {
	Listener string
	MatchID  int64
}

// Store is the narrow persistence contract for routing facts.
//
// Create methods are create-or-get: storing an equal value twice returns the
// same id. Action identity is the canonical action encoding; match identity
// is the canonical condition plus the action reference (0 means no action).
//
// Implementations must be safe for concurrent use.
type Store interface {
	CreateAction(ctx context.Context, a *Action) (int64, error)
	FindAction(ctx context.Context, a *Action) (int64, error)
	CreateMatch(ctx context.Context, cond params.Params, actionID int64) (int64, error)
	FindMatch(ctx context.Context, cond params.Params, actionID int64) (int64, error)
	CreateHost(ctx context.Context, domain string) (int64, error)
	FindHost(ctx context.Context, domain string) (int64, error)
	CreateListener(ctx context.Context, socket string) (int64, error)
	FindListener(ctx context.Context, socket string) (int64, error)

	LinkHost(ctx context.Context, matchID, hostID int64) error
	UnlinkHost(ctx context.Context, matchID, hostID int64) error
	LinkListener(ctx context.Context, matchID, listenerID int64) error
	UnlinkListener(ctx context.Context, matchID, listenerID int64) error

	// Hosts lists every stored host in insertion order.
	Hosts(ctx context.Context) ([]string, error)
	// ListenerMatches lists the listener to match relation.
	ListenerMatches(ctx context.Context) ([]ListenerMatch, error)
	// Fact returns a single match with its relations.
	Fact(ctx context.Context, matchID int64) (Fact, error)
	// Facts returns every match in store order.
	Facts(ctx context.Context) ([]Fact, error)

	// DeleteMatch removes a match and prunes the action, hosts and listeners
	// that are no longer referenced by any match.
	DeleteMatch(ctx context.Context, matchID int64) error
}

// Transactor is implemented by stores that can group several calls into one
// atomic unit. The callback receives a context bound to the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func inTx(ctx context.Context, s Store, fn func(ctx context.Context) error) error {
	if tx, ok := s.(Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(ctx)
}
