package idempotency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/motomarket/api/internal/platform/httpx"
	"github.com/motomarket/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	replayHeaderLower = "x-idempotent-replay"
	maxKeyLength      = 255
)

// Logger is the printf-style sink used by the cleanup worker. *zap.SugaredLogger satisfies it.
type Logger interface {
	Warnf(format string, args ...any)
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a stored response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without a key through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Middleware guards mutating requests so that a retried POST /orders with the same key and
// caller returns the stored response instead of creating a second order.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{store: store, header: defaultHeaderName, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	now      func() time.Time
	optional bool
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.optional:
		next.ServeHTTP(w, r)
		return
	case key == "":
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", fmt.Sprintf("missing %s header", g.header))
		return
	case len(key) > maxKeyLength:
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	scope := ScopeFor(ctx, key)
	fingerprint := Fingerprint(r.Method, r.URL.Path, body)
	logger := requestctx.Logger(ctx).With(zap.String("idempotency_principal", scope.Principal))

	reservation, err := g.store.Reserve(ctx, scope, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		logger.Warn("idempotency reserve failed", zap.Error(err))
		respondError(ctx, w, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		logger.Info("idempotent replay", zap.Int("status", reservation.Record.ResponseStatus))
		replay(w, reservation.Record)
	case ReservationStatePending:
		respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	case ReservationStateNew:
		g.complete(ctx, logger, w, r, next, scope, fingerprint)
	default:
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

// complete runs next against a buffer, then stores the outcome before the client sees it.
// Server errors are not stored so the caller can retry with the same key.
func (g *guard) complete(ctx context.Context, logger *zap.Logger, w http.ResponseWriter, r *http.Request, next http.Handler, scope Scope, fingerprint string) {
	buf := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
	next.ServeHTTP(buf, r)
	resp := Response{Status: buf.status, Headers: cloneHeader(buf.header), Body: buf.body.Bytes()}

	if resp.Replayable() {
		if err := g.store.SaveResponse(ctx, scope, fingerprint, resp, g.now().UTC(), g.ttl); err != nil {
			logger.Error("idempotency save failed", zap.Error(err))
			g.release(ctx, logger, scope, fingerprint)
			respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
			return
		}
	} else {
		g.release(ctx, logger, scope, fingerprint)
	}

	if err := buf.flush(w); err != nil {
		logger.Warn("idempotency flush failed", zap.Error(err))
	}
}

func (g *guard) release(ctx context.Context, logger *zap.Logger, scope Scope, fingerprint string) {
	if err := g.store.Release(ctx, scope, fingerprint); err != nil {
		logger.Warn("idempotency release failed", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// replay writes record on top of headers already set for this request, such as trace propagation.
func replay(w http.ResponseWriter, record Record) {
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		w.Header()[key] = values
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.wroteHeader || status < 100 {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(data)
}

func (b *bufferedResponse) flush(w http.ResponseWriter) error {
	dst := w.Header()
	for key, values := range b.header {
		dst[key] = values
	}
	w.WriteHeader(b.status)
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
	return dst
}
