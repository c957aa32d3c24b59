// Package logctx carries zerolog loggers through context.Context so that
// per-run and per-chunk fields (input, chunk_index) reach every stage of the
// aggregation pipeline without threading a logger argument everywhere.
//
//	ctx := logctx.WithLogger(ctx, logging.WithPhase("run"))
//	ctx = logctx.WithInt(ctx, "chunk_index", i)
//	logctx.FromContext(ctx).Debug().Msg("folded chunk")
package logctx

import (
	"context"

	"github.com/eunmann/vendas-agg/pkg/logging"
	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// package logger from pkg/logging. It never returns a zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a context whose logger carries an extra string field.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt returns a context whose logger carries an extra int field.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int(key, value).Logger())
}
