package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/motomarket/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
)

// Error is the JSON error envelope returned by the API.
//
// The error field carries the human readable message clients display as is; code is the
// stable identifier clients branch on.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError constructs an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

type envelope struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Status    int    `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
}

// WriteError writes err as JSON, stamping the request and trace identifiers from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := err.Message
	if message == "" {
		message = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error:     message,
		Code:      err.Code,
		Status:    status,
		RequestID: clip(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
	})
}

// WriteInternal logs cause on the request logger and answers 500 with a fixed message.
// The cause never reaches the client.
func WriteInternal(ctx context.Context, w http.ResponseWriter, code, message string, cause error) {
	fields := []zap.Field{zap.String("code", code)}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		fields = append(fields, zap.String("requestId", reqID))
	}
	requestctx.Logger(ctx).Error("request failed", fields...)
	WriteError(ctx, w, NewError(code, message, http.StatusInternalServerError))
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
