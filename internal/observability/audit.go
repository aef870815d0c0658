package observability

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Audit emits a structured audit record for a security-relevant HTTP event.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	base = appendTraceContext(r.Context(), base)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditEvent is the transport-free variant used by the service layer.
func AuditEvent(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	base = appendTraceContext(ctx, base)
	slog.InfoContext(ctx, "audit", base...)
}

// appendTraceContext stamps audit records with the active trace so they can
// be correlated with spans in the tracing backend.
func appendTraceContext(ctx context.Context, attrs []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
