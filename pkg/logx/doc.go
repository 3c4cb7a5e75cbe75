// Package logx configures paybot's structured logging.
//
// A small value type (logx.Logger) wraps zerolog so call sites stay terse:
//
//	log.Warn("token refresh failed", logx.String("tenant", t), logx.Err(err))
//
// Sinks: readable console, JSON file, and an optional rate-limited chat sink
// that forwards warnings to an operator chat.
package logx
