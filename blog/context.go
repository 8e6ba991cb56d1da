// Package-internal plumbing for carrying this module's *slog.Logger on a
// context.Context, so blog.Error/blog.AuditInfo/... can log against
// whatever request- or job-scoped attrs (threat list, update attempt,
// request ID) the caller attached, without threading a logger argument
// through every function in the call chain.
package blog

import (
	"context"
	"log/slog"
)

// loggerCtxKey is the unique context key this package stores its logger
// under; its type exists only so it can't collide with a key some other
// package also derives from an empty struct.
type loggerCtxKey struct{}

// fromContext retrieves this package's logger from ctx. It panics if ctx
// was never initialized via LogContext.Context, since every exported
// logging function in this package assumes one is present.
func fromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger)
	if !ok || logger == nil {
		panic("blog: context has no logger attached")
	}
	return logger
}

// ContextWith returns a copy of ctx whose attached logger includes attrs
// in every subsequent log line, so a caller can pin identifying fields
// (e.g. ThreatList, Attempt) once and have them follow the context
// through the rest of a request or job.
func ContextWith(ctx context.Context, attrs ...slog.Attr) context.Context {
	// slog.Logger.With takes []any, not []slog.Attr, and Go won't
	// coerce one to the other without reallocating. Passing each Attr
	// as its own arg attaches it as a top-level field instead of
	// nesting the attrs under a group.
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	logger := fromContext(ctx).With(args...)
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}
