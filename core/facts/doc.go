// Package facts holds the normalized routing facts the control plane
// reconciles into the runtime configuration: actions, matches, hosts and
// listeners plus their many-to-many relations.
//
// Identity is structural. Actions are keyed by their canonical parameter
// encoding and matches by their canonical condition plus action reference,
// so applying the same unit twice is a no-op:
//
//	store := facts.NewMemoryStore()
//	id, err := facts.Apply(ctx, store, facts.Unit{
//		Match:     facts.Match{Hosts: []string{"example.com"}},
//		Action:    action,
//		Listeners: []string{"*:443"},
//	})
//
// Three Store implementations are provided: MemoryStore, SQLiteStore
// (modernc.org/sqlite with golang-migrate migrations) and PostgresStore
// (pgx with goose migrations). Deleting a match prunes the action, hosts and
// listeners that lose their last reference.
package facts
