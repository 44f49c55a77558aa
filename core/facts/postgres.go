package facts

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/unitctl/integration/database/pg"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresMigrations returns the goose migrations for the fact schema.
func PostgresMigrations() fs.FS {
	sub, err := fs.Sub(postgresMigrations, "migrations/postgres")
	if err != nil {
		panic(err)
	}
	return sub
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists facts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore migrates the fact schema and wraps pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (*PostgresStore, error) {
	if err := pg.Migrate(ctx, pool, PostgresMigrations(), log); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) q(ctx context.Context) pgQuerier {
	if tx, ok := pg.TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

// InTx runs fn inside one transaction carried by the context.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := pg.TxFromContext(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pg.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanPgID(row pgx.Row) (int64, error) {
	var id int64
	if err := row.Scan(&id); err != nil {
		if pg.IsNotFoundError(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func pgNullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (s *PostgresStore) CreateAction(ctx context.Context, a *Action) (int64, error) {
	key := a.Key()
	if _, err := s.q(ctx).Exec(ctx,
		`INSERT INTO actions (params, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`, key, key); err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return s.FindAction(ctx, a)
}

func (s *PostgresStore) FindAction(ctx context.Context, a *Action) (int64, error) {
	return scanPgID(s.q(ctx).QueryRow(ctx, `SELECT id FROM actions WHERE key = $1`, a.Key()))
}

func (s *PostgresStore) CreateMatch(ctx context.Context, cond params.Params, actionID int64) (int64, error) {
	key := cond.Canonical()
	if _, err := s.q(ctx).Exec(ctx,
		`INSERT INTO matches (params, key, action_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		key, key, pgNullableID(actionID)); err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	return s.FindMatch(ctx, cond, actionID)
}

func (s *PostgresStore) FindMatch(ctx context.Context, cond params.Params, actionID int64) (int64, error) {
	return scanPgID(s.q(ctx).QueryRow(ctx,
		`SELECT id FROM matches WHERE key = $1 AND COALESCE(action_id, 0) = $2`,
		cond.Canonical(), actionID))
}

func (s *PostgresStore) CreateHost(ctx context.Context, domain string) (int64, error) {
	if _, err := s.q(ctx).Exec(ctx,
		`INSERT INTO hosts (domain) VALUES ($1) ON CONFLICT DO NOTHING`, domain); err != nil {
		return 0, fmt.Errorf("insert host: %w", err)
	}
	return s.FindHost(ctx, domain)
}

func (s *PostgresStore) FindHost(ctx context.Context, domain string) (int64, error) {
	return scanPgID(s.q(ctx).QueryRow(ctx, `SELECT id FROM hosts WHERE domain = $1`, domain))
}

func (s *PostgresStore) CreateListener(ctx context.Context, socket string) (int64, error) {
	if _, err := s.q(ctx).Exec(ctx,
		`INSERT INTO listeners (ip_socket) VALUES ($1) ON CONFLICT DO NOTHING`, socket); err != nil {
		return 0, fmt.Errorf("insert listener: %w", err)
	}
	return s.FindListener(ctx, socket)
}

func (s *PostgresStore) FindListener(ctx context.Context, socket string) (int64, error) {
	return scanPgID(s.q(ctx).QueryRow(ctx, `SELECT id FROM listeners WHERE ip_socket = $1`, socket))
}

func (s *PostgresStore) LinkHost(ctx context.Context, matchID, hostID int64) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO match_hosts (match_id, host_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, matchID, hostID)
	if pg.IsForeignKeyViolationError(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("link host: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnlinkHost(ctx context.Context, matchID, hostID int64) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).Exec(ctx,
			`DELETE FROM match_hosts WHERE match_id = $1 AND host_id = $2`, matchID, hostID); err != nil {
			return fmt.Errorf("unlink host: %w", err)
		}
		return s.prune(ctx)
	})
}

func (s *PostgresStore) LinkListener(ctx context.Context, matchID, listenerID int64) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO match_listeners (match_id, listener_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, matchID, listenerID)
	if pg.IsForeignKeyViolationError(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("link listener: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnlinkListener(ctx context.Context, matchID, listenerID int64) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).Exec(ctx,
			`DELETE FROM match_listeners WHERE match_id = $1 AND listener_id = $2`, matchID, listenerID); err != nil {
			return fmt.Errorf("unlink listener: %w", err)
		}
		return s.prune(ctx)
	})
}

func (s *PostgresStore) Hosts(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT domain FROM hosts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) ListenerMatches(ctx context.Context) ([]ListenerMatch, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT l.ip_socket, ml.match_id
		FROM match_listeners ml
		JOIN listeners l ON l.id = ml.listener_id
		ORDER BY ml.match_id, ml.id`)
	if err != nil {
		return nil, fmt.Errorf("list listener matches: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ListenerMatch, error) {
		var lm ListenerMatch
		err := row.Scan(&lm.Listener, &lm.MatchID)
		return lm, err
	})
}

func (s *PostgresStore) Fact(ctx context.Context, matchID int64) (Fact, error) {
	all, err := s.loadFacts(ctx, matchID)
	if err != nil {
		return Fact{}, err
	}
	if len(all) == 0 {
		return Fact{}, ErrNotFound
	}
	return all[0], nil
}

func (s *PostgresStore) Facts(ctx context.Context) ([]Fact, error) {
	return s.loadFacts(ctx, 0)
}

// loadFacts aggregates hosts and listeners per match; id 0 loads all.
func (s *PostgresStore) loadFacts(ctx context.Context, matchID int64) ([]Fact, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT m.id, m.key, a.key,
			COALESCE((SELECT array_agg(h.domain ORDER BY mh.id)
				FROM match_hosts mh JOIN hosts h ON h.id = mh.host_id
				WHERE mh.match_id = m.id), '{}'),
			COALESCE((SELECT array_agg(l.ip_socket ORDER BY ml.id)
				FROM match_listeners ml JOIN listeners l ON l.id = ml.listener_id
				WHERE ml.match_id = m.id), '{}')
		FROM matches m
		LEFT JOIN actions a ON a.id = m.action_id
		WHERE $1 = 0 OR m.id = $1
		ORDER BY m.id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Fact, error) {
		var (
			f      Fact
			cond   string
			action *string
		)
		if err := row.Scan(&f.ID, &cond, &action, &f.Match.Hosts, &f.Listeners); err != nil {
			return f, err
		}
		actionKey := ""
		if action != nil {
			actionKey = *action
		}
		if len(f.Match.Hosts) == 0 {
			f.Match.Hosts = nil
		}
		if len(f.Listeners) == 0 {
			f.Listeners = nil
		}
		return f, decodeFact(&f, cond, actionKey)
	})
}

func (s *PostgresStore) DeleteMatch(ctx context.Context, matchID int64) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		var actionID *int64
		err := s.q(ctx).QueryRow(ctx,
			`DELETE FROM matches WHERE id = $1 RETURNING action_id`, matchID).Scan(&actionID)
		if pg.IsNotFoundError(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete match: %w", err)
		}
		if err := s.prune(ctx); err != nil {
			return err
		}
		if actionID != nil {
			if _, err := s.q(ctx).Exec(ctx, `
				DELETE FROM actions a WHERE a.id = $1
				AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.action_id = a.id)`, *actionID); err != nil {
				return fmt.Errorf("prune action: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) prune(ctx context.Context) error {
	if _, err := s.q(ctx).Exec(ctx, `
		DELETE FROM hosts h
		WHERE NOT EXISTS (SELECT 1 FROM match_hosts mh WHERE mh.host_id = h.id)`); err != nil {
		return fmt.Errorf("prune hosts: %w", err)
	}
	if _, err := s.q(ctx).Exec(ctx, `
		DELETE FROM listeners l
		WHERE NOT EXISTS (SELECT 1 FROM match_listeners ml WHERE ml.listener_id = l.id)`); err != nil {
		return fmt.Errorf("prune listeners: %w", err)
	}
	return nil
}
