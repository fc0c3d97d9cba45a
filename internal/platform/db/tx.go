package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// Queryable is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Beginner starts transactions; *pgxpool.Pool implements it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type txKey struct{}

// Conn returns the transaction carried by ctx, falling back to the pool.
// Repositories call it on every statement so the same code runs inside and
// outside a unit of work.
func Conn(ctx context.Context, fallback Queryable) Queryable {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return fallback
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// TxManager runs fn as one atomic unit of work. Implementations retry
// transient failures; fn must therefore be safe to run more than once.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ErrContention is returned once every attempt failed on lock or
// serialization conflicts.
var ErrContention = &apperr.Error{
	Kind:      apperr.KindConflict,
	Msg:       "resource contention, please retry",
	Retryable: true,
}

// RetryPolicy bounds the retry loop around a transaction.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is five attempts starting at 25ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 25 * time.Millisecond, MaxDelay: time.Second}
}

// Backoff returns the wait before the attempt following the given one:
// base * 2^(attempt-1), capped at MaxDelay, plus up to 50% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// SQLSTATE codes
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// IsRetryable reports whether err is a Postgres failure that a fresh attempt
// of the same transaction can resolve.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeUniqueViolation:
		return true
	}
	return false
}

// IsUniqueViolation reports whether err violated the named unique index. An
// empty name matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsForeignKeyViolation reports whether err referenced a missing parent row.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// PgTxManager is the pgx implementation of TxManager.
type PgTxManager struct {
	pool   Beginner
	policy RetryPolicy
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewTxManager(pool Beginner, policy RetryPolicy, logger zerolog.Logger) *PgTxManager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &PgTxManager{pool: pool, policy: policy, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. A call made while ctx
// already carries a transaction joins it instead of nesting.
func (m *PgTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		err := m.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("transaction conflict")
		if attempt == m.policy.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, m.policy.Backoff(attempt)); err != nil {
			return err
		}
	}
	return apperr.Wrap(ErrContention, lastErr)
}

func (m *PgTxManager) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback must run even when ctx was cancelled mid-transaction.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			m.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
