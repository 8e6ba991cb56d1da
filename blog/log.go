// The exported logging functions this package offers: each pulls the
// *slog.Logger attached to ctx (see context.go) and logs msg, attrs, and
// (where the function takes one) err, at the matching slog level.
package blog

import (
	"context"
	"log/slog"
)

// Error logs msg and err at error level. err is attached under the key
// "error", alongside attrs.
func Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	fromContext(ctx).With(slog.Any("error", err)).LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

// Warn logs msg and attrs at warning level.
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	fromContext(ctx).LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// Info logs msg and attrs at info level.
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	fromContext(ctx).LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Debug logs msg and attrs at debug level.
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	fromContext(ctx).LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// AuditError logs msg and err at error level with the audit tag set, for
// events an operator must be able to find by filtering on that tag. err
// is attached under the key "error", alongside attrs.
func AuditError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	fromContext(ctx).LogAttrs(ctx, slog.LevelError, msg, append([]slog.Attr{auditAttr, slog.Any("error", err)}, attrs...)...)
}

// AuditInfo logs msg and attrs at info level with the audit tag set.
func AuditInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	fromContext(ctx).LogAttrs(ctx, slog.LevelInfo, msg, append([]slog.Attr{auditAttr}, attrs...)...)
}
