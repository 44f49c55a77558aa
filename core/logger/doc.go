// Package logger builds slog loggers and provides attribute helpers so every
// component logs the same keys.
//
// Create a logger with options:
//
//	log := logger.New(
//		logger.WithProduction("unitctl"),
//		logger.WithContextValue("request_id", requestIDKey{}),
//	)
//
// Log with the attribute helpers:
//
//	log.InfoContext(ctx, "certificate issued",
//		logger.Component("letsencrypt"),
//		logger.Host("example.com"),
//		logger.Elapsed(start),
//	)
//
// Helpers return an empty slog.Attr for zero values, which slog drops, so
// optional values such as logger.Error(err) need no nil checks.
package logger
