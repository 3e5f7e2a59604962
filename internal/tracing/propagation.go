package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.TurnID != "" {
		logger = logger.With().Str("turn_id", tc.TurnID).Logger()
	}
	if tc.SessionID != "" {
		logger = logger.With().Str("session_id", tc.SessionID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return baseLogger
	}
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a background context carrying only the tracing values of ctx.
// Work handed to another goroutine uses it so it is not cancelled with the caller.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.TurnID != "" {
		out = WithTurnID(out, tc.TurnID)
	}
	if tc.SessionID != "" {
		out = WithSessionID(out, tc.SessionID)
	}
	return out
}
