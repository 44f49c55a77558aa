package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/config"
)

type pollConfig struct {
	Interval time.Duration `env:"UNITCTL_TEST_POLL_INTERVAL" envDefault:"5s"`
	Attempts int           `env:"UNITCTL_TEST_POLL_ATTEMPTS" envDefault:"10"`
	Sockets  []string      `env:"UNITCTL_TEST_SOCKETS" envDefault:"*:80"`
}

type requiredConfig struct {
	URL string `env:"UNITCTL_TEST_REQUIRED_URL,required"`
}

// These tests mutate the process environment and the package cache, so
// they do not run in parallel.

func TestLoadDefaultsAndCache(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	var cfg pollConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 10, cfg.Attempts)
	assert.Equal(t, []string{"*:80"}, cfg.Sockets)

	t.Setenv("UNITCTL_TEST_POLL_ATTEMPTS", "3")
	var cached pollConfig
	require.NoError(t, config.Load(&cached))
	assert.Equal(t, 10, cached.Attempts, "first load is cached")

	config.Reset()
	var fresh pollConfig
	require.NoError(t, config.Load(&fresh))
	assert.Equal(t, 3, fresh.Attempts)
}

func TestLoadFromEnvironment(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("UNITCTL_TEST_SOCKETS", "*:80,127.0.0.1:8080")
	t.Setenv("UNITCTL_TEST_POLL_INTERVAL", "250ms")

	var cfg pollConfig
	config.MustLoad(&cfg)
	assert.Equal(t, []string{"*:80", "127.0.0.1:8080"}, cfg.Sockets)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
}

func TestLoadRequired(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	var cfg requiredConfig
	assert.Error(t, config.Load(&cfg))
	assert.Panics(t, func() { config.MustLoad(&cfg) })
}
