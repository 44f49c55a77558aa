package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/config"
	"github.com/dmitrymomot/unitctl/core/runtime/runtimetest"
	"github.com/dmitrymomot/unitctl/core/unitconf"
)

const apiUnit = `
[[unit]]
id = "api"
listeners = ["*:443"]

[unit.match]
hosts = ["api.example.com"]
uri = "/v1/*"

[unit.action]
proxy = "http://127.0.0.1:8333"
`

// setupRun points the process configuration at a fake runtime and a fresh
// sqlite fact store.
func setupRun(t *testing.T) *runtimetest.Server {
	t.Helper()

	rt := runtimetest.New(t)
	t.Setenv("UNIT_CONTROL_URL", rt.URL)
	t.Setenv("FACT_STORE", storeSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "facts.db"))
	t.Setenv("ACME_EMAIL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	config.Reset()
	t.Cleanup(config.Reset)
	return rt
}

func writeUnitFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api.toml")
	require.NoError(t, os.WriteFile(path, []byte(apiUnit), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRunUsage(t *testing.T) {
	_, err := runCmd(t)
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, "frobnicate")
	assert.ErrorIs(t, err, errUsage)
}

func TestRunApplyAndRemove(t *testing.T) {
	rt := setupRun(t)
	path := writeUnitFile(t)

	_, err := runCmd(t, "apply", path)
	require.NoError(t, err)

	cfg := rt.Config()
	table := unitconf.TableFor("*:443")
	require.Contains(t, cfg.Listeners, "*:443")
	assert.Equal(t, table.Pass(), cfg.Listeners["*:443"].Pass)
	assert.Nil(t, cfg.Listeners["*:443"].TLS, "no certificate is stored yet")
	require.Len(t, cfg.Routes[table], 1)
	assert.Equal(t, "api.example.com", cfg.Routes[table][0].Host())

	out, err := runCmd(t, "config")
	require.NoError(t, err)
	var printed unitconf.Config
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	assert.Len(t, printed.Routes[table], 1)

	// The store outlives the process: push alone reproduces the routes.
	_, err = runCmd(t, "push")
	require.NoError(t, err)
	assert.Len(t, rt.Config().Routes[table], 1)

	_, err = runCmd(t, "remove", path)
	require.NoError(t, err)
	assert.Empty(t, rt.Config().Routes[table])
}

func TestRunMerge(t *testing.T) {
	rt := setupRun(t)
	path := writeUnitFile(t)
	table := unitconf.TableFor("*:443")

	_, err := runCmd(t, "apply", "-merge", path)
	require.NoError(t, err)
	require.Len(t, rt.Config().Routes[table], 1)

	_, err = runCmd(t, "apply", "-merge", path)
	require.NoError(t, err)
	assert.Len(t, rt.Config().Routes[table], 1, "merging twice is idempotent")

	_, err = runCmd(t, "remove", "-merge", path)
	require.NoError(t, err)
	assert.Empty(t, rt.Config().Routes[table])
}

func TestRunCertificates(t *testing.T) {
	rt := setupRun(t)
	now := time.Now()
	rt.StoreBundle(t, "fresh.example.com", runtimetest.ValidFor(t, "fresh.example.com", 90*24*time.Hour))
	rt.StoreBundle(t, "soon.example.com", runtimetest.ValidFor(t, "soon.example.com", 7*24*time.Hour))
	rt.StoreBundle(t, "gone.example.com", runtimetest.Bundle(t, "gone.example.com", now.Add(-90*24*time.Hour), now.Add(-time.Hour)))

	out, err := runCmd(t, "certificates")
	require.NoError(t, err)

	var got certificatesView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"fresh.example.com"}, got.Valid)
	require.Len(t, got.Expiring, 2)
	assert.Equal(t, "gone.example.com", got.Expiring[0].Name)
	assert.True(t, got.Expiring[0].Expired)
	assert.Equal(t, "soon.example.com", got.Expiring[1].Name)
	assert.False(t, got.Expiring[1].Expired)
	assert.WithinDuration(t, now.Add(7*24*time.Hour), got.Expiring[1].Until, time.Minute)
}

func TestRunErrors(t *testing.T) {
	t.Run("missing file argument", func(t *testing.T) {
		setupRun(t)
		_, err := runCmd(t, "apply")
		assert.ErrorIs(t, err, errUsage)
	})

	t.Run("acme disabled", func(t *testing.T) {
		setupRun(t)
		_, err := runCmd(t, "hydrate")
		assert.ErrorIs(t, err, errACMEDisabled)
	})

	t.Run("unknown fact store", func(t *testing.T) {
		setupRun(t)
		t.Setenv("FACT_STORE", "etcd")
		_, err := runCmd(t, "push")
		assert.ErrorContains(t, err, `unknown fact store "etcd"`)
	})

	t.Run("runtime down", func(t *testing.T) {
		rt := setupRun(t)
		rt.SetDown(true)
		_, err := runCmd(t, "push")
		assert.Error(t, err)
	})
}
