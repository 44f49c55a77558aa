package facts

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/unitctl/integration/database/sqlite"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqliteMigrationsPath = "migrations/sqlite"

type sqliteTxKey struct{}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists facts in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore migrates db and wraps it.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := sqlite.Migrate(db, sqliteMigrations, sqliteMigrationsPath); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) q(ctx context.Context) sqlQuerier {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn inside one transaction. Nested calls reuse the outer one.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanID(row *sql.Row) (int64, error) {
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func (s *SQLiteStore) CreateAction(ctx context.Context, a *Action) (int64, error) {
	if _, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO actions (params) VALUES (?) ON CONFLICT DO NOTHING`, a.Key()); err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return s.FindAction(ctx, a)
}

func (s *SQLiteStore) FindAction(ctx context.Context, a *Action) (int64, error) {
	return s.scanID(s.q(ctx).QueryRowContext(ctx, `SELECT id FROM actions WHERE params = ?`, a.Key()))
}

func (s *SQLiteStore) CreateMatch(ctx context.Context, cond params.Params, actionID int64) (int64, error) {
	if _, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO matches (params, action_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		cond.Canonical(), nullableID(actionID)); err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	return s.FindMatch(ctx, cond, actionID)
}

func (s *SQLiteStore) FindMatch(ctx context.Context, cond params.Params, actionID int64) (int64, error) {
	return s.scanID(s.q(ctx).QueryRowContext(ctx,
		`SELECT id FROM matches WHERE params = ? AND IFNULL(action_id, 0) = ?`,
		cond.Canonical(), actionID))
}

func (s *SQLiteStore) CreateHost(ctx context.Context, domain string) (int64, error) {
	if _, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO hosts (domain) VALUES (?) ON CONFLICT DO NOTHING`, domain); err != nil {
		return 0, fmt.Errorf("insert host: %w", err)
	}
	return s.FindHost(ctx, domain)
}

func (s *SQLiteStore) FindHost(ctx context.Context, domain string) (int64, error) {
	return s.scanID(s.q(ctx).QueryRowContext(ctx, `SELECT id FROM hosts WHERE domain = ?`, domain))
}

func (s *SQLiteStore) CreateListener(ctx context.Context, socket string) (int64, error) {
	if _, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO listeners (ip_socket) VALUES (?) ON CONFLICT DO NOTHING`, socket); err != nil {
		return 0, fmt.Errorf("insert listener: %w", err)
	}
	return s.FindListener(ctx, socket)
}

func (s *SQLiteStore) FindListener(ctx context.Context, socket string) (int64, error) {
	return s.scanID(s.q(ctx).QueryRowContext(ctx, `SELECT id FROM listeners WHERE ip_socket = ?`, socket))
}

func (s *SQLiteStore) LinkHost(ctx context.Context, matchID, hostID int64) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO match_hosts (match_id, host_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, matchID, hostID)
	if err != nil {
		return fmt.Errorf("link host: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnlinkHost(ctx context.Context, matchID, hostID int64) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM match_hosts WHERE match_id = ? AND host_id = ?`, matchID, hostID); err != nil {
			return fmt.Errorf("unlink host: %w", err)
		}
		return s.pruneHosts(ctx)
	})
}

func (s *SQLiteStore) LinkListener(ctx context.Context, matchID, listenerID int64) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO match_listeners (match_id, listener_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, matchID, listenerID)
	if err != nil {
		return fmt.Errorf("link listener: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UnlinkListener(ctx context.Context, matchID, listenerID int64) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM match_listeners WHERE match_id = ? AND listener_id = ?`, matchID, listenerID); err != nil {
			return fmt.Errorf("unlink listener: %w", err)
		}
		return s.pruneListeners(ctx)
	})
}

func (s *SQLiteStore) Hosts(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT domain FROM hosts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListenerMatches(ctx context.Context) ([]ListenerMatch, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT l.ip_socket, ml.match_id
		FROM match_listeners ml
		JOIN listeners l ON l.id = ml.listener_id
		ORDER BY ml.match_id, ml.id`)
	if err != nil {
		return nil, fmt.Errorf("list listener matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ListenerMatch
	for rows.Next() {
		var lm ListenerMatch
		if err := rows.Scan(&lm.Listener, &lm.MatchID); err != nil {
			return nil, err
		}
		out = append(out, lm)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Fact(ctx context.Context, matchID int64) (Fact, error) {
	facts, err := s.loadFacts(ctx, `WHERE m.id = ?`, matchID)
	if err != nil {
		return Fact{}, err
	}
	if len(facts) == 0 {
		return Fact{}, ErrNotFound
	}
	return facts[0], nil
}

func (s *SQLiteStore) Facts(ctx context.Context) ([]Fact, error) {
	return s.loadFacts(ctx, "")
}

func (s *SQLiteStore) loadFacts(ctx context.Context, where string, args ...any) ([]Fact, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT m.id, m.params, a.params
		FROM matches m
		LEFT JOIN actions a ON a.id = m.action_id
		`+where+`
		ORDER BY m.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	var out []Fact
	index := make(map[int64]int)
	for rows.Next() {
		var (
			f          Fact
			cond       string
			actionJSON sql.NullString
		)
		if err := rows.Scan(&f.ID, &cond, &actionJSON); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := decodeFact(&f, cond, actionJSON.String); err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[f.ID] = len(out)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(out) == 0 {
		return out, nil
	}

	hostRows, err := s.q(ctx).QueryContext(ctx, `
		SELECT mh.match_id, h.domain
		FROM match_hosts mh JOIN hosts h ON h.id = mh.host_id
		ORDER BY mh.id`)
	if err != nil {
		return nil, fmt.Errorf("list match hosts: %w", err)
	}
	for hostRows.Next() {
		var (
			id     int64
			domain string
		)
		if err := hostRows.Scan(&id, &domain); err != nil {
			_ = hostRows.Close()
			return nil, err
		}
		if i, ok := index[id]; ok {
			out[i].Match.Hosts = append(out[i].Match.Hosts, domain)
		}
	}
	if err := hostRows.Err(); err != nil {
		_ = hostRows.Close()
		return nil, err
	}
	_ = hostRows.Close()

	lms, err := s.ListenerMatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, lm := range lms {
		if i, ok := index[lm.MatchID]; ok {
			out[i].Listeners = append(out[i].Listeners, lm.Listener)
		}
	}
	return out, nil
}

func (s *SQLiteStore) DeleteMatch(ctx context.Context, matchID int64) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		var actionID sql.NullInt64
		err := s.q(ctx).QueryRowContext(ctx, `SELECT action_id FROM matches WHERE id = ?`, matchID).Scan(&actionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load match: %w", err)
		}

		if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, matchID); err != nil {
			return fmt.Errorf("delete match: %w", err)
		}
		if err := s.pruneHosts(ctx); err != nil {
			return err
		}
		if err := s.pruneListeners(ctx); err != nil {
			return err
		}
		if actionID.Valid {
			if _, err := s.q(ctx).ExecContext(ctx, `
				DELETE FROM actions WHERE id = ?
				AND NOT EXISTS (SELECT 1 FROM matches WHERE action_id = ?)`,
				actionID.Int64, actionID.Int64); err != nil {
				return fmt.Errorf("prune action: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) pruneHosts(ctx context.Context) error {
	if _, err := s.q(ctx).ExecContext(ctx, `
		DELETE FROM hosts
		WHERE NOT EXISTS (SELECT 1 FROM match_hosts WHERE host_id = hosts.id)`); err != nil {
		return fmt.Errorf("prune hosts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) pruneListeners(ctx context.Context) error {
	if _, err := s.q(ctx).ExecContext(ctx, `
		DELETE FROM listeners
		WHERE NOT EXISTS (SELECT 1 FROM match_listeners WHERE listener_id = listeners.id)`); err != nil {
		return fmt.Errorf("prune listeners: %w", err)
	}
	return nil
}

func decodeFact(f *Fact, cond, action string) error {
	if err := json.Unmarshal([]byte(cond), &f.Match.Params); err != nil {
		return fmt.Errorf("decode match %d: %w", f.ID, err)
	}
	if action == "" {
		return nil
	}
	var a Action
	if err := json.Unmarshal([]byte(action), &a); err != nil {
		return fmt.Errorf("decode action of match %d: %w", f.ID, err)
	}
	f.Action = &a
	return nil
}
