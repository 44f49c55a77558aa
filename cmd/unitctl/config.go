package main

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/unitctl/core/server"
	"github.com/dmitrymomot/unitctl/integration/database/redis"
)

// Fact store backends.
const (
	storeMemory   = "memory"
	storeSQLite   = "sqlite"
	storePostgres = "postgres"
)

// Config is the process configuration, read from the environment and an
// optional .env file.
type Config struct {
	Env      string     `env:"APP_ENV" envDefault:"production"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	ControlURL     string        `env:"UNIT_CONTROL_URL" envDefault:"unix:///var/run/control.unit.sock"`
	ControlTimeout time.Duration `env:"UNIT_CONTROL_TIMEOUT" envDefault:"30s"`

	FactStore  string `env:"FACT_STORE" envDefault:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"/var/lib/unitctl/facts.db"`

	ACME ACMEConfig

	Redis redis.Config
	Admin server.Config
}

// ACMEConfig configures certificate management. It is disabled when
// Email is empty.
type ACMEConfig struct {
	Email        string        `env:"ACME_EMAIL"`
	DirectoryURL string        `env:"ACME_DIRECTORY_URL"`
	AccountKey   string        `env:"ACME_ACCOUNT_KEY"`
	CARoots      string        `env:"ACME_CA_ROOTS"`
	ChallengeDir string        `env:"ACME_CHALLENGE_DIR" envDefault:"/var/lib/unitctl/challenges"`
	Listeners    []string      `env:"ACME_CHALLENGE_LISTENERS" envDefault:"*:80"`
	PollInterval time.Duration `env:"ACME_POLL_INTERVAL" envDefault:"5s"`
	PollAttempts int           `env:"ACME_POLL_ATTEMPTS" envDefault:"10"`
	Concurrency  int           `env:"HYDRATE_CONCURRENCY" envDefault:"4"`
	Schedule     string        `env:"WATCH_SCHEDULE" envDefault:"@every 60s"`
}

// Enabled reports whether certificates are managed.
func (c ACMEConfig) Enabled() bool {
	return c.Email != ""
}
