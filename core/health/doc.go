// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: Process is running (no dependency checks)
//   - Readiness: All dependencies are available
//
// Usage:
//
//	r.Get("/health/live", health.Liveness)
//	r.Get("/health/ready", health.Readiness(log,
//		health.Check("runtime", runtimeClient.Ping),
//		health.Check("redis", redis.Healthcheck(rdb)),
//	))
package health
