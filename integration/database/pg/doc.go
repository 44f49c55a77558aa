// Package pg connects to PostgreSQL through a pgx pool and applies goose
// migrations. It backs the postgres fact store.
//
// Connect retries the initial ping RetryAttempts times, RetryInterval apart,
// so the controller can start before the database is reachable.
//
// # Configuration
//
//	type Config struct {
//		ConnectionString  string        `env:"PG_CONN_URL,required"`
//		MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
//		MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"2"`
//		HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
//		MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
//		MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
//		RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
//		PingTimeout       time.Duration `env:"PG_PING_TIMEOUT" envDefault:"3s"`
//	}
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, facts.PostgresMigrations(), log); err != nil {
//		return err
//	}
//
// # Transactions
//
// WithTx stores a pgx.Tx in a context and TxFromContext retrieves it, so
// repository methods can join a caller's transaction without changing their
// signatures.
//
// # Errors
//
// IsNotFoundError, IsDuplicateKeyError, IsForeignKeyViolationError and
// IsTxClosedError classify driver errors without importing pgconn.
package pg
