// Audit-log support: AuditError/AuditInfo tag a record with auditAttr,
// auditHandler routes tagged records to a separate writer wrapped with
// the "[AUDIT] " line prefix, and newAuditHandler builds a pair of
// otherwise-identical handlers (one plain, one audit-prefixed) sharing
// the caller's slog.HandlerOptions.
package blog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
)

// auditKey identifies auditAttr among a record's attrs.
const auditKey = "audit"

// auditAttr marks a record as an audit record. AuditError and AuditInfo
// attach it; auditHandler.Handle looks for it to pick a sub-handler.
var auditAttr = slog.Bool(auditKey, true)

// auditWriter prepends "[AUDIT] " to every line written through it.
type auditWriter struct {
	inner io.Writer
}

var _ io.Writer = (*auditWriter)(nil)

// Write prepends "[AUDIT] " to in and forwards the result to the wrapped
// writer in a single call, matching slog's guarantee of one Write per
// Handle, so the prefix is added exactly once per log line.
func (w *auditWriter) Write(in []byte) (int, error) {
	var out bytes.Buffer
	out.WriteString("[AUDIT] ")
	out.Write(in)
	n, err := out.WriteTo(w.inner)
	return int(n), err
}

// newAuditHandler builds an auditHandler out of two copies of the handler
// constructor produces: one writing straight to w, one writing to w
// through an auditWriter. Generic because Go won't implicitly convert a
// func(...) *slog.TextHandler to a func(...) slog.Handler.
func newAuditHandler[T slog.Handler](constructor func(io.Writer, *slog.HandlerOptions) T, w io.Writer, opts *slog.HandlerOptions) *auditHandler {
	origReplaceAttr := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, attr slog.Attr) slog.Attr {
		// auditWriter already communicates the audit tag via the
		// "[AUDIT] " line prefix, so drop the attr itself from the
		// rendered line. Compare the whole attr, not just its key, so
		// an unrelated attr that happens to be named "audit" survives.
		if attr.Equal(auditAttr) {
			return slog.Attr{}
		}
		if origReplaceAttr != nil {
			return origReplaceAttr(groups, attr)
		}
		return attr
	}

	return &auditHandler{
		audit: constructor(&auditWriter{inner: w}, opts),
		plain: constructor(w, opts),
	}
}

// auditHandler dispatches each record to one of two wrapped handlers
// depending on whether the record carries auditAttr; Enabled, WithAttrs,
// and WithGroup fan out to both since either could end up handling a
// given record.
type auditHandler struct {
	audit slog.Handler
	plain slog.Handler
}

var _ slog.Handler = (*auditHandler)(nil)

func (h *auditHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.audit.Enabled(ctx, l) || h.plain.Enabled(ctx, l)
}

func (h *auditHandler) Handle(ctx context.Context, r slog.Record) error {
	isAudit := false
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Equal(auditAttr) {
			isAudit = true
			return false
		}
		return true
	})
	if isAudit {
		return h.audit.Handle(ctx, r)
	}
	return h.plain.Handle(ctx, r)
}

func (h *auditHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &auditHandler{
		audit: h.audit.WithAttrs(attrs),
		plain: h.plain.WithAttrs(attrs),
	}
}

func (h *auditHandler) WithGroup(name string) slog.Handler {
	return &auditHandler{
		audit: h.audit.WithGroup(name),
		plain: h.plain.WithGroup(name),
	}
}
