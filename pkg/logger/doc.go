// Package logger builds *slog.Logger instances with consistent formatting and a
// shared vocabulary of attribute helpers for the notification delivery core.
//
// New applies functional options (format, level, static attributes, context
// extractors) and wraps the concrete slog handler with LogHandlerDecorator, which
// pulls request-scoped values out of context.Context on every record.
//
// Attribute helpers (UserID, Dependency, Provider, DedupKey, ...) keep key names
// stable so log pipelines can filter on them:
//
//	log := logger.New(logger.WithEnvironment("production", "notifykit"))
//	log.LogAttrs(ctx, slog.LevelWarn, "circuit opened",
//		logger.Dependency("push"),
//		logger.Error(err),
//	)
package logger
