package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/motomarket/api/internal/platform/auth"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored key.
type Status string

const (
	// StatusPending marks a key whose first request is still running.
	StatusPending Status = "pending"
	// StatusCompleted marks a key with a stored response.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means Record holds a response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request with the same key is in flight.
	ReservationStatePending
)

// Scope identifies a key as seen by one principal. The same client key sent by two users
// names two separate records.
type Scope struct {
	Principal string
	Key       string
}

// ScopeFor builds the scope for key under the identity carried by ctx.
func ScopeFor(ctx context.Context, key string) Scope {
	principal := "anonymous"
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UserID > 0 {
		principal = "user:" + strconv.FormatInt(identity.UserID, 10)
	}
	return Scope{Principal: principal, Key: strings.TrimSpace(key)}
}

// ID is the storage identifier for the scope.
func (s Scope) ID() string {
	return sha256Hex([]byte(s.Principal + "\x00" + s.Key))
}

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is a stored key with its response once completed.
type Record struct {
	Scope           Scope
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the handler output captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Replayable reports whether the response may be stored. Server errors are transient,
// so the key is released and the client may retry.
func (r Response) Replayable() bool {
	return r.Status < http.StatusInternalServerError
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, scope Scope, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Fingerprint hashes the parts of a request that define "the same order": method, path and
// the JSON body in canonical form, so key order and whitespace do not matter. Bodies that are
// not JSON are hashed as sent.
func Fingerprint(method, path string, body []byte) string {
	builder := strings.Builder{}
	builder.WriteString(strings.ToUpper(method))
	builder.WriteString("|")
	builder.WriteString(path)
	builder.WriteString("|")
	builder.WriteString(sha256Hex(canonicalJSON(body)))
	return sha256Hex([]byte(builder.String()))
}

func canonicalJSON(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return trimmed
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return trimmed
	}
	return canonical
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storedHeaders keeps the response headers worth replaying. Hop-by-hop headers and
// per-request values such as the request id or cookies are dropped.
func storedHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if omitHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func omitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization",
		"te", "trailers", "transfer-encoding", "upgrade",
		"set-cookie", "x-request-id", "traceparent", "x-cloud-trace-context", replayHeaderLower:
		return true
	}
	return false
}

func headersFromRecord(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
