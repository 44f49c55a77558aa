package reconcile

import (
	"slices"
	"time"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/unitconf"
)

// CertificateSet maps a domain to the leaf certificate stored for it.
type CertificateSet map[string]certstore.Info

// Usable reports whether host has a stored certificate outside the renewal
// window at now.
func (s CertificateSet) Usable(host string, now time.Time) bool {
	info, ok := s[host]
	return ok && !info.NeedsRenewal(now)
}

// Translate derives the complete routing document from the fact snapshot.
//
// Every listener referenced by a fact gets its table; facts contribute one
// route per host (or one host-less route) to each of their listeners, in
// snapshot order. A listener's TLS bundle lists, in first-seen order, the
// hosts on it with a usable certificate and no in-flight challenge on that
// listener; listeners with no such host get no TLS section.
func Translate(snapshot []facts.Fact, certs CertificateSet, challenges []Challenge, now time.Time) unitconf.Config {
	cfg := unitconf.New()
	tlsHosts := make(map[string][]string)

	for _, f := range snapshot {
		for _, socket := range f.Listeners {
			table := unitconf.TableFor(socket)
			if _, ok := cfg.Listeners[socket]; !ok {
				cfg.Listeners[socket] = unitconf.Listener{Pass: table.Pass()}
				cfg.Routes[table] = []unitconf.Route{}
			}

			if len(f.Match.Hosts) == 0 {
				cfg.Routes[table] = append(cfg.Routes[table], unitconf.Route{
					Match:  f.Match.Params.Clone(),
					Action: f.Action,
				})
				continue
			}

			for _, host := range f.Match.Hosts {
				cfg.Routes[table] = append(cfg.Routes[table], unitconf.Route{
					Match:  f.Match.Params.WithString(facts.HostKey, host),
					Action: f.Action,
				})
				if !certs.Usable(host, now) || challenged(challenges, host, socket) {
					continue
				}
				if !slices.Contains(tlsHosts[socket], host) {
					tlsHosts[socket] = append(tlsHosts[socket], host)
				}
			}
		}
	}

	for socket, hosts := range tlsHosts {
		l := cfg.Listeners[socket]
		l.TLS = &unitconf.TLS{Certificate: hosts}
		cfg.Listeners[socket] = l
	}
	return cfg
}

func challenged(challenges []Challenge, host, socket string) bool {
	return slices.ContainsFunc(challenges, func(c Challenge) bool {
		return c.Host == host && c.OnListener(socket)
	})
}
