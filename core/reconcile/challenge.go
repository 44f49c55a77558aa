package reconcile

import (
	"cmp"
	"slices"

	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/unitconf"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

// ChallengePathPrefix is the URI prefix of HTTP-01 challenge requests.
const ChallengePathPrefix = "/.well-known/acme-challenge/"

// DefaultChallengeListener is the socket challenge routes are installed on
// when a challenge names none.
const DefaultChallengeListener = "*:80"

// Challenge is an in-flight HTTP-01 challenge: the runtime must answer
// GET ChallengePathPrefix+Token for Host with the file at Path.
type Challenge struct {
	Host      string
	Token     string
	Path      string
	Listeners []string
}

func (c Challenge) id() string {
	return c.Host + "\x00" + c.Token
}

func (c Challenge) sockets() []string {
	if len(c.Listeners) == 0 {
		return []string{DefaultChallengeListener}
	}
	return c.Listeners
}

// Route is the priority route serving the challenge response.
func (c Challenge) Route() unitconf.Route {
	return unitconf.Route{
		Match: params.Params{
			facts.HostKey: c.Host,
			"uri":         ChallengePathPrefix + c.Token,
		},
		Action: &facts.Action{Params: params.Params{"share": []any{c.Path}}},
	}
}

// OnListener reports whether the challenge is served on socket.
func (c Challenge) OnListener(socket string) bool {
	return slices.Contains(c.sockets(), socket)
}

// withChallenges installs every challenge route at index 0 of its
// listeners' tables and withholds the challenged host from those
// listeners' TLS bundles.
func withChallenges(cfg unitconf.Config, challenges []Challenge) unitconf.Config {
	for _, ch := range challenges {
		for _, socket := range ch.sockets() {
			cfg = cfg.EnsureListener(socket)
			cfg = cfg.WithoutTLSHost(socket, ch.Host)
			cfg = unitconf.InsertPriorityRoute(cfg, unitconf.TableFor(socket), ch.Route())
		}
	}
	return cfg
}

func sortChallenges(cs []Challenge) {
	slices.SortFunc(cs, func(a, b Challenge) int {
		return cmp.Or(cmp.Compare(a.Host, b.Host), cmp.Compare(a.Token, b.Token))
	})
}
