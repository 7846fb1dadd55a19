// Package logx wraps zerolog behind a small structured logger.
//
// The Logger value type is safe to copy and cheap to derive with With().
// A zero Logger is a no-op, so components can accept one without nil checks.
// When created from a Service, a Logger stays live across Apply() calls:
// changing the level or sinks at runtime affects every derived logger.
package logx
