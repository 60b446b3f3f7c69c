package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx returns the context logger, or the global logger when none is set.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithUser tags the context logger with the authenticated user.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return WithLogger(ctx, Ctx(ctx).With().Str(FieldUserID, userID).Logger())
}

// WithConn tags the context logger with a realtime connection id.
func WithConn(ctx context.Context, connID string) context.Context {
	return WithLogger(ctx, Ctx(ctx).With().Str(FieldConnID, connID).Logger())
}
