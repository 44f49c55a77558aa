package facts

import (
	"slices"

	"github.com/dmitrymomot/unitctl/pkg/params"
)

// HostKey is the match parameter that carries the target domain in the
// runtime document. Facts keep hosts as a relation instead.
const HostKey = "host"

// Match is a routing condition. Hosts scopes it to domains; an empty host
// list applies the match to every host. Params carries uri, source and any
// other runtime match conditions.
type Match struct {
	Hosts  []string
	Params params.Params
}

// Key is the canonical condition, excluding hosts.
func (m Match) Key() string {
	return m.Params.Canonical()
}

// IsZero reports whether the match has neither hosts nor conditions.
func (m Match) IsZero() bool {
	return len(m.Hosts) == 0 && len(m.Params) == 0
}

// HasHost reports whether host is explicitly listed.
func (m Match) HasHost(host string) bool {
	return slices.Contains(m.Hosts, host)
}
