package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/motomarket/api/internal/platform/postgres"
)

const defaultTable = "idempotency_keys"

// PostgresOption customises the PostgresStore behaviour.
type PostgresOption func(*PostgresStore)

// WithTable overrides the table used to store idempotency keys.
func WithTable(name string) PostgresOption {
	return func(store *PostgresStore) {
		if name != "" {
			store.table = pgx.Identifier{name}.Sanitize()
		}
	}
}

// PostgresStore implements Store backed by the idempotency_keys table.
type PostgresStore struct {
	provider *postgres.Provider
	table    string
}

// NewPostgresStore constructs a PostgreSQL-backed idempotency store.
func NewPostgresStore(provider *postgres.Provider, opts ...PostgresOption) *PostgresStore {
	store := &PostgresStore{
		provider: provider,
		table:    pgx.Identifier{defaultTable}.Sanitize(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type storedResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *PostgresStore) Reserve(ctx context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := scope.ID()
	fresh := Record{
		Scope:       scope,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	var result Reservation
	err := s.provider.RunTransaction(ctx, func(ctx context.Context) error {
		conn, err := s.provider.Conn(ctx)
		if err != nil {
			return err
		}

		tag, err := conn.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, principal, fingerprint, status, created_at, updated_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $5, $6) ON CONFLICT (key) DO NOTHING`, s.table),
			id, scope.Principal, fingerprint, string(StatusPending), now, fresh.ExpiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			result = Reservation{State: ReservationStateNew, Record: fresh}
			return nil
		}

		var (
			record  Record
			status  string
			payload []byte
		)
		err = conn.QueryRow(ctx, fmt.Sprintf(
			`SELECT fingerprint, status, response, created_at, updated_at, expires_at
			 FROM %s WHERE key = $1 FOR UPDATE`, s.table), id).
			Scan(&record.Fingerprint, &status, &payload, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
		if err != nil {
			return err
		}
		record.Scope = scope
		record.Status = Status(status)

		if !now.Before(record.ExpiresAt) {
			_, err := conn.Exec(ctx, fmt.Sprintf(
				`UPDATE %s SET fingerprint = $2, status = $3, response = NULL, created_at = $4, updated_at = $4, expires_at = $5 WHERE key = $1`, s.table),
				id, fingerprint, string(StatusPending), now, fresh.ExpiresAt)
			if err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: fresh}
			return nil
		}

		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}

		if record.Status == StatusCompleted {
			if len(payload) > 0 {
				var resp storedResponse
				if err := json.Unmarshal(payload, &resp); err != nil {
					return fmt.Errorf("idempotency: decode stored response: %w", err)
				}
				record.ResponseStatus = resp.Status
				record.ResponseHeaders = resp.Headers
				record.ResponseBody = resp.Body
			}
			result = Reservation{State: ReservationStateCompleted, Record: record}
			return nil
		}

		result = Reservation{State: ReservationStatePending, Record: record}
		return nil
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	return result, err
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *PostgresStore) SaveResponse(ctx context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload, err := json.Marshal(storedResponse{
		Status:  resp.Status,
		Headers: storedHeaders(resp.Headers),
		Body:    resp.Body,
	})
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}

	conn, err := s.provider.Conn(ctx)
	if err != nil {
		return err
	}

	var stored string
	err = conn.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, principal, fingerprint, status, response, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET status = EXCLUDED.status, response = EXCLUDED.response,
		     updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		 RETURNING fingerprint`, s.table),
		scope.ID(), scope.Principal, fingerprint, string(StatusCompleted), payload, now, now.Add(ttl)).Scan(&stored)
	if err != nil {
		return postgres.WrapError("idempotency.save", err)
	}
	if stored != fingerprint {
		return ErrFingerprintMismatch
	}
	return nil
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	conn, err := s.provider.Conn(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := conn.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %[1]s WHERE key IN (SELECT key FROM %[1]s WHERE expires_at <= $1 LIMIT $2)`, s.table),
		now.UTC(), limit)
	if err != nil {
		return 0, postgres.WrapError("idempotency.cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

// Release removes the reservation to allow callers to retry.
func (s *PostgresStore) Release(ctx context.Context, scope Scope, fingerprint string) error {
	conn, err := s.provider.Conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND fingerprint = $2`, s.table),
		scope.ID(), fingerprint)
	return postgres.WrapError("idempotency.release", err)
}
