package letsencrypt

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

const (
	// DefaultPollInterval is the delay between two polls of an ACME resource.
	DefaultPollInterval = 5 * time.Second

	// DefaultPollAttempts bounds every polling loop.
	DefaultPollAttempts = 10

	// DefaultConcurrency bounds how many hosts Hydrate issues for at once.
	DefaultConcurrency = 4

	// DefaultSchedule is the cron spec Watch hydrates on.
	DefaultSchedule = "@every 60s"
)

// ManagerOption configures a Manager during initialization.
type ManagerOption func(*Manager)

// WithACMEClient sets the ACME client. The account is still registered
// before the first order. Mostly useful for tests.
func WithACMEClient(client ACMEClient) ManagerOption {
	return func(m *Manager) {
		m.client = client
	}
}

// WithACMEHTTPClient sets the HTTP client used to reach the ACME directory.
// It takes precedence over Config.CARootsFile.
func WithACMEHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = hc
	}
}

// WithAccountKeyStore sets where the ACME account key is kept.
// By default a FileKeyStore next to the challenge directory is used.
func WithAccountKeyStore(store AccountKeyStore) ManagerOption {
	return func(m *Manager) {
		m.keys = store
	}
}

// WithChallengeListeners sets the listener sockets challenge routes are
// installed on. Empty means "*:80".
func WithChallengeListeners(sockets ...string) ManagerOption {
	return func(m *Manager) {
		m.listeners = sockets
	}
}

// WithPollConfig sets the polling interval and the number of attempts.
// This is primarily useful for testing to avoid long delays.
func WithPollConfig(interval time.Duration, attempts int) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
		if attempts > 0 {
			m.pollAttempts = attempts
		}
	}
}

// WithConcurrency bounds the number of hosts hydrated in parallel.
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithSchedule sets the cron spec used by Watch.
func WithSchedule(spec string) ManagerOption {
	return func(m *Manager) {
		if spec != "" {
			m.schedule = spec
		}
	}
}

// WithCertificateKeyType sets the key type of issued certificates.
func WithCertificateKeyType(keyType certcrypto.KeyType) ManagerOption {
	return func(m *Manager) {
		m.keyType = keyType
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithObserver registers a callback for state transitions.
func WithObserver(fn StateObserver) ManagerOption {
	return func(m *Manager) {
		m.observer = fn
	}
}

// WithClock overrides the time source used by ShouldRenew.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}
