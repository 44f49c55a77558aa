// Package redis connects to Redis with retries and exposes a readiness probe.
//
// unitctl keeps the shared ACME account key in Redis when REDIS_URL is set,
// so every instance renews with the same account.
//
//	client, err := redis.Connect(ctx, redis.Config{
//		ConnectionURL: "redis://localhost:6379/0",
//		RetryAttempts: 3,
//		RetryInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	keys := letsencrypt.NewRedisKeyStore(client, "")
//
// Errors: ErrEmptyConnectionURL, ErrFailedToParseRedisConnString,
// ErrRedisNotReady and ErrHealthcheckFailed, all usable with errors.Is.
package redis
