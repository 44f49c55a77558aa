package unitconf

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

// TablePrefix namespaces the routing tables owned by this control plane.
const TablePrefix = "unitctl_"

// RouteTable names one routing table in the runtime document.
type RouteTable string

// TableFor derives the routing table owned by a listener socket.
func TableFor(socket string) RouteTable {
	return RouteTable(TablePrefix + "[" + socket + "]")
}

// Pass is the listener "pass" value that routes into t.
func (t RouteTable) Pass() string {
	return "routes/" + string(t)
}

// TLS is a listener's certificate attachment.
type TLS struct {
	Certificate []string `json:"certificate"`
}

// UnmarshalJSON accepts both a single bundle name and a list.
func (t *TLS) UnmarshalJSON(data []byte) error {
	var raw struct {
		Certificate json.RawMessage `json:"certificate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Certificate) == 0 {
		t.Certificate = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(raw.Certificate, &one); err == nil {
		t.Certificate = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw.Certificate, &many); err != nil {
		return fmt.Errorf("tls certificate: %w", err)
	}
	t.Certificate = many
	return nil
}

// Listener is one socket entry of the runtime document.
type Listener struct {
	Pass string `json:"pass"`
	TLS  *TLS   `json:"tls,omitempty"`
}

// Route is one (match, action) entry of a routing table. The match carries
// the host condition inline, one host per route.
type Route struct {
	Match  params.Params `json:"match,omitempty"`
	Action *facts.Action `json:"action,omitempty"`
}

// Key is the canonical match, used to order and deduplicate routes.
func (r Route) Key() string {
	return r.Match.Canonical()
}

// Equal reports whether both match and action are equal.
func (r Route) Equal(o Route) bool {
	return r.Key() == o.Key() && r.Action.Equal(o.Action)
}

// Host returns the host condition of the route, if any.
func (r Route) Host() string {
	h, _ := r.Match.String(facts.HostKey)
	return h
}

// Config is the runtime configuration document. Top-level sections other
// than listeners and routes (applications, settings, upstreams, ...) are
// kept verbatim in Extra so a whole-document replace does not drop them.
type Config struct {
	Listeners map[string]Listener
	Routes    map[RouteTable][]Route
	Extra     map[string]json.RawMessage
}

// New returns an empty document.
func New() Config {
	return Config{
		Listeners: make(map[string]Listener),
		Routes:    make(map[RouteTable][]Route),
	}
}

// MarshalJSON encodes the document; listeners and routes are always present.
func (c Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		out[k] = v
	}
	listeners := c.Listeners
	if listeners == nil {
		listeners = map[string]Listener{}
	}
	routes := c.Routes
	if routes == nil {
		routes = map[RouteTable][]Route{}
	}
	out["listeners"] = listeners
	out["routes"] = routes
	return json.Marshal(out)
}

// UnmarshalJSON decodes a document. A routes section given as a bare list
// (the runtime's unnamed "routes" table) is rejected since every table this
// package manages is named.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = New()
	for k, v := range raw {
		switch k {
		case "listeners":
			if err := json.Unmarshal(v, &c.Listeners); err != nil {
				return fmt.Errorf("listeners: %w", err)
			}
		case "routes":
			if err := json.Unmarshal(v, &c.Routes); err != nil {
				return fmt.Errorf("routes: %w", err)
			}
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]json.RawMessage)
			}
			c.Extra[k] = v
		}
	}
	if c.Listeners == nil {
		c.Listeners = make(map[string]Listener)
	}
	if c.Routes == nil {
		c.Routes = make(map[RouteTable][]Route)
	}
	return nil
}

// Clone returns a copy that shares no mutable state with c.
func (c Config) Clone() Config {
	out := New()
	for socket, l := range c.Listeners {
		if l.TLS != nil {
			l.TLS = &TLS{Certificate: slices.Clone(l.TLS.Certificate)}
		}
		out.Listeners[socket] = l
	}
	for table, routes := range c.Routes {
		out.Routes[table] = cloneRoutes(routes)
	}
	if c.Extra != nil {
		out.Extra = maps.Clone(c.Extra)
	}
	return out
}

func cloneRoutes(routes []Route) []Route {
	out := make([]Route, len(routes))
	for i, r := range routes {
		out[i] = Route{Match: r.Match.Clone(), Action: r.Action}
	}
	return out
}

// EnsureListener provisions the listener and its empty table if missing.
func (c Config) EnsureListener(socket string) Config {
	out := c.Clone()
	table := TableFor(socket)
	if _, ok := out.Listeners[socket]; !ok {
		out.Listeners[socket] = Listener{Pass: table.Pass()}
	}
	if _, ok := out.Routes[table]; !ok {
		out.Routes[table] = []Route{}
	}
	return out
}

// WithoutTLSHost drops host from the listener's certificate list. The TLS
// section is removed entirely once it becomes empty.
func (c Config) WithoutTLSHost(socket, host string) Config {
	out := c.Clone()
	l, ok := out.Listeners[socket]
	if !ok || l.TLS == nil {
		return out
	}
	l.TLS.Certificate = slices.DeleteFunc(l.TLS.Certificate, func(h string) bool { return h == host })
	if len(l.TLS.Certificate) == 0 {
		l.TLS = nil
	}
	out.Listeners[socket] = l
	return out
}
