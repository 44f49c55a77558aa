package certstore_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/certstore"
)

func TestParseTime(t *testing.T) {
	t.Parallel()

	got, err := certstore.ParseTime("Jun  5 19:46:19 2025 GMT")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.June, 5, 19, 46, 19, 0, time.UTC), got)

	_, err = certstore.ParseTime("2025-06-05T19:46:19Z")
	assert.Error(t, err)
}

func TestValidityJSON(t *testing.T) {
	t.Parallel()

	raw := `{"since":"May  1 00:00:00 2025 GMT","until":"Jul 30 23:59:59 2025 GMT"}`
	var v certstore.Validity
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	assert.Equal(t, time.Date(2025, time.July, 30, 23, 59, 59, 0, time.UTC), v.Until)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestNeedsRenewal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		until time.Time
		want  bool
	}{
		{name: "exactly 21 days", until: now.Add(certstore.RenewBefore), want: true},
		{name: "21 days and a second", until: now.Add(certstore.RenewBefore + time.Second), want: false},
		{name: "expired", until: now.Add(-time.Hour), want: true},
		{name: "60 days", until: now.Add(60 * 24 * time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := certstore.Info{Validity: certstore.Validity{Since: now.Add(-time.Hour), Until: tt.until}}
			assert.Equal(t, tt.want, info.NeedsRenewal(now))
		})
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		until time.Time
		want  bool
	}{
		{name: "ends now", until: now, want: true},
		{name: "ended an hour ago", until: now.Add(-time.Hour), want: true},
		{name: "one second left", until: now.Add(time.Second), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := certstore.Info{Validity: certstore.Validity{Since: now.Add(-time.Hour), Until: tt.until}}
			assert.Equal(t, tt.want, info.Expired(now))
		})
	}
}

func TestEntryLeaf(t *testing.T) {
	t.Parallel()

	_, err := certstore.Entry{}.Leaf()
	assert.ErrorIs(t, err, certstore.ErrEmptyChain)

	leaf, err := certstore.Entry{Chain: []certstore.Info{
		{Subject: certstore.Name{CommonName: "example.com"}},
		{Subject: certstore.Name{CommonName: "R3"}},
	}}.Leaf()
	require.NoError(t, err)
	assert.Equal(t, "example.com", leaf.Subject.CommonName)
}
