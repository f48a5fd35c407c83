package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/payforge/api/internal/platform/requestctx"
)

// field length caps applied before anything reaches the wire
const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
	maxTraceLen   = 64
)

// Error is the JSON error envelope every handler returns. Fields are set via
// the With* builders and serialised flat, details merged at the top level.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an error envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLen),
		Message: clip(message, maxMessageLen),
		Status:  status,
	}
}

// WithRequestID sets the request identifier on the envelope.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, maxIDLen)
	return e
}

// WithTraceID sets the trace identifier on the envelope.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, maxTraceLen)
	return e
}

// WithDetails merges extra JSON-serialisable fields into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// envelope flattens the error into the wire shape.
func (e Error) envelope(ctx context.Context) (int, map[string]any) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := make(map[string]any, 5+len(e.Details))
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = status

	if id := firstNonEmpty(e.RequestID, clip(middleware.GetReqID(ctx), maxIDLen)); id != "" {
		body["request_id"] = id
	}
	if id := firstNonEmpty(e.TraceID, clip(requestctx.TraceID(ctx), maxTraceLen)); id != "" {
		body["trace_id"] = id
	}
	return status, body
}

// WriteError serialises the envelope to the response writer, filling in
// request and trace identifiers from context when the caller did not.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status, body := err.envelope(ctx)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// clip collapses newlines and truncates to limit bytes.
func clip(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}
