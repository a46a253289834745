package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultTxTimeout = 15 * time.Second

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

// TxFromContext returns the transaction bound to ctx by RunInTx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
	options  pgx.TxOptions
}

// WithTxAttempts opts into re-running fn on serialisation failures. Transactions run once by default.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithIsolation sets the isolation level for the transaction.
func WithIsolation(level pgx.TxIsoLevel) TxOption {
	return func(cfg *txConfig) {
		cfg.options.IsoLevel = level
	}
}

// UnitOfWork implements repositories.UnitOfWork on top of the provider's pool.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork constructs a UnitOfWork bound to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return WrapError("transaction", errors.New("postgres: provider is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, fn, u.opts...)
}

// RunTransaction executes fn inside a transaction using the provider's pool.
func (p *Provider) RunTransaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}

	cfg := txConfig{attempts: 1, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	pool, err := p.Pool(txnCtx)
	if err != nil {
		return WrapError("transaction", err)
	}

	return runWithAttempts(txnCtx, pool, cfg, fn)
}

// runWithAttempts returns errors raised by fn unchanged; only driver failures are wrapped.
func runWithAttempts(ctx context.Context, db txBeginner, cfg txConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.attempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		fromFn bool
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		fromFn, err = runOnce(ctx, db, cfg.options, fn)
		if err == nil || attempt == attempts || !isRetryable(err) {
			break
		}
	}
	if fromFn {
		return err
	}
	return WrapError("transaction", err)
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func runOnce(ctx context.Context, db txBeginner, opts pgx.TxOptions, fn func(ctx context.Context) error) (bool, error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return false, fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return false, fmt.Errorf("postgres: rollback after %v: %w", err, rbErr)
		}
		return true, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return false, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// Conn returns the transaction bound to ctx, falling back to the pool.
func (p *Provider) Conn(ctx context.Context) (Querier, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx, nil
	}
	pool, err := p.Pool(ctx)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
