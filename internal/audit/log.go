package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"rhythmflow.app/internal/auth"
	"rhythmflow.app/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names written to the audit trail.
const (
	EventEnrollmentCreate = "enrollment.create"
	EventEnrollmentCancel = "enrollment.cancel"
	EventClassCreate      = "class.create"
	EventClassUpdate      = "class.update"
	EventClassDelete      = "class.delete"
	EventTokenIssued      = "auth.token.issued"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry["user_id"] = p.UserID
		entry["role"] = string(p.Role)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.LogJSON(entry)
	return nil
}
