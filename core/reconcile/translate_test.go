package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/certstore"
	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/reconcile"
	"github.com/dmitrymomot/unitctl/core/unitconf"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

var now = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func proxy(url string) *facts.Action {
	return &facts.Action{Params: params.Params{"proxy": url}}
}

func validFor(d time.Duration) certstore.Info {
	return certstore.Info{Validity: certstore.Validity{Since: now.Add(-time.Hour), Until: now.Add(d)}}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	snapshot := []facts.Fact{
		{
			ID:        1,
			Match:     facts.Match{Hosts: []string{"example.com", "www.example.com"}},
			Action:    proxy("http://127.0.0.1:8333"),
			Listeners: []string{"*:443", "*:80"},
		},
		{
			ID:        2,
			Match:     facts.Match{Params: params.Params{"uri": "/static/*"}},
			Action:    proxy("http://127.0.0.1:8222"),
			Listeners: []string{"*:80"},
		},
	}

	cfg := reconcile.Translate(snapshot, nil, nil, now)

	require.Len(t, cfg.Listeners, 2)
	assert.Equal(t, "routes/unitctl_[*:443]", cfg.Listeners["*:443"].Pass)
	assert.Nil(t, cfg.Listeners["*:443"].TLS)

	https := cfg.Routes[unitconf.TableFor("*:443")]
	require.Len(t, https, 2)
	assert.Equal(t, "example.com", https[0].Host())
	assert.Equal(t, "www.example.com", https[1].Host())

	http := cfg.Routes[unitconf.TableFor("*:80")]
	require.Len(t, http, 3)
	assert.Equal(t, `{"uri":"/static/*"}`, http[2].Key())
	assert.Equal(t, "", http[2].Host())
}

func TestTranslateTLS(t *testing.T) {
	t.Parallel()

	snapshot := []facts.Fact{{
		ID:        1,
		Match:     facts.Match{Hosts: []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com"}},
		Action:    proxy("http://127.0.0.1:8333"),
		Listeners: []string{"*:443"},
	}}
	certs := reconcile.CertificateSet{
		"a.example.com": validFor(60 * 24 * time.Hour),
		"b.example.com": validFor(5 * 24 * time.Hour),
		"c.example.com": validFor(60 * 24 * time.Hour),
		"d.example.com": validFor(90 * 24 * time.Hour),
	}

	tests := []struct {
		name       string
		challenges []reconcile.Challenge
		want       []string
	}{
		{
			name: "usable certificates only",
			want: []string{"a.example.com", "c.example.com", "d.example.com"},
		},
		{
			name:       "challenge on the same listener suppresses the host",
			challenges: []reconcile.Challenge{{Host: "c.example.com", Token: "tok", Listeners: []string{"*:443"}}},
			want:       []string{"a.example.com", "d.example.com"},
		},
		{
			name:       "challenge on another listener does not",
			challenges: []reconcile.Challenge{{Host: "c.example.com", Token: "tok"}},
			want:       []string{"a.example.com", "c.example.com", "d.example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := reconcile.Translate(snapshot, certs, tt.challenges, now)
			require.NotNil(t, cfg.Listeners["*:443"].TLS)
			assert.Equal(t, tt.want, cfg.Listeners["*:443"].TLS.Certificate)
		})
	}
}

func TestTranslateTLSOmittedWhenNoUsableCertificate(t *testing.T) {
	t.Parallel()

	snapshot := []facts.Fact{{
		ID:        1,
		Match:     facts.Match{Hosts: []string{"example.com"}},
		Action:    proxy("http://127.0.0.1:8333"),
		Listeners: []string{"*:443"},
	}}
	certs := reconcile.CertificateSet{"example.com": validFor(certstore.RenewBefore)}

	cfg := reconcile.Translate(snapshot, certs, nil, now)
	assert.Nil(t, cfg.Listeners["*:443"].TLS)
}

func TestChallengeRoute(t *testing.T) {
	t.Parallel()

	ch := reconcile.Challenge{Host: "example.com", Token: "abc", Path: "/var/lib/unitctl/challenges/abc"}
	r := ch.Route()

	assert.Equal(t, "example.com", r.Host())
	assert.Equal(t, `{"host":"example.com","uri":"/.well-known/acme-challenge/abc"}`, r.Key())
	assert.Equal(t, []any{"/var/lib/unitctl/challenges/abc"}, r.Action.Params["share"])
	assert.True(t, ch.OnListener(reconcile.DefaultChallengeListener))
	assert.False(t, ch.OnListener("*:443"))
}
