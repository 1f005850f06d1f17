package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrHandleReleased = errors.New("transaction handle already released")
	ErrNoTransaction  = errors.New("no open transaction on handle")
)

// TxHandle is a single-use transaction resource: one begin, one commit or
// rollback, and exactly one release. It is threaded explicitly through every
// repository call that must run inside the transaction.
type TxHandle interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	// Release returns the handle's underlying resources. It is safe to call
	// after commit or rollback; a still-open transaction is rolled back first.
	// Release never returns an error; failures are logged.
	Release()

	// DB exposes the live transaction for repository calls. Nil before Begin
	// and after Release.
	DB() *gorm.DB
}

// HandleSource mints fresh handles. Each executor attempt consumes exactly one.
type HandleSource interface {
	NewHandle() TxHandle
}

// RetryObserver is implemented by handle sources that count retried attempts.
type RetryObserver interface {
	ObserveRetry(label string)
}

type Handles struct {
	db      *gorm.DB
	retries *prometheus.CounterVec
	log     *zap.Logger
}

func NewHandles(db *gorm.DB, retries *prometheus.CounterVec, log *zap.Logger) *Handles {
	return &Handles{db: db, retries: retries, log: log}
}

func (s *Handles) NewHandle() TxHandle {
	return &gormHandle{root: s.db, log: s.log}
}

func (s *Handles) ObserveRetry(label string) {
	if s.retries != nil {
		s.retries.WithLabelValues(label).Inc()
	}
}

type gormHandle struct {
	root     *gorm.DB
	tx       *gorm.DB
	log      *zap.Logger
	open     bool
	released bool
}

func (h *gormHandle) Begin(ctx context.Context) error {
	if h.released {
		return ErrHandleReleased
	}
	if h.open {
		return errors.New("transaction already begun on handle")
	}
	tx := h.root.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	h.tx = tx
	h.open = true
	return nil
}

func (h *gormHandle) Commit() error {
	if !h.open {
		return ErrNoTransaction
	}
	h.open = false
	return h.tx.Commit().Error
}

func (h *gormHandle) Rollback() error {
	if !h.open {
		return ErrNoTransaction
	}
	h.open = false
	return h.tx.Rollback().Error
}

func (h *gormHandle) Release() {
	if h.released {
		h.log.Warn("transaction handle released twice")
		return
	}
	if h.open {
		if err := h.tx.Rollback().Error; err != nil {
			h.log.Error("rolling back abandoned transaction on release", zap.Error(err))
		}
		h.open = false
	}
	h.tx = nil
	h.released = true
}

func (h *gormHandle) DB() *gorm.DB {
	return h.tx
}

// Run executes op atomically on h: begin, invoke, commit on success, roll back
// on any failure. The handle is released on every exit path. A rollback or
// release failure is logged as a secondary event and never replaces the error
// that caused it.
func Run[T any](ctx context.Context, h TxHandle, log *zap.Logger, label string, op func(h TxHandle) (T, error)) (T, error) {
	var zero T

	if err := h.Begin(ctx); err != nil {
		h.Release()
		return zero, fmt.Errorf("%s: beginning transaction: %w", label, err)
	}
	defer h.Release()

	out, err := op(h)
	if err != nil {
		if rbErr := h.Rollback(); rbErr != nil {
			log.Error("rollback failed",
				zap.String("op", label),
				zap.NamedError("rollback_error", rbErr),
				zap.Error(err),
			)
		}
		return zero, err
	}

	if err := h.Commit(); err != nil {
		if rbErr := h.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrNoTransaction) {
			log.Error("rollback after failed commit failed",
				zap.String("op", label),
				zap.NamedError("rollback_error", rbErr),
			)
		}
		return zero, fmt.Errorf("%s: committing transaction: %w", label, err)
	}

	return out, nil
}

// RunSequence executes ops strictly in order inside one transaction. The first
// failure aborts the remaining operations and rolls back everything already
// done; there is no partial commit.
func RunSequence[T any](ctx context.Context, h TxHandle, log *zap.Logger, label string, ops []func(h TxHandle) (T, error)) ([]T, error) {
	return Run(ctx, h, log, label, func(h TxHandle) ([]T, error) {
		results := make([]T, 0, len(ops))
		for i, op := range ops {
			out, err := op(h)
			if err != nil {
				return nil, fmt.Errorf("%s: step %d: %w", label, i+1, err)
			}
			results = append(results, out)
		}
		return results, nil
	})
}

const retryBaseDelay = 100 * time.Millisecond

// RunWithRetry repeats Run up to maxAttempts times, consuming a fresh handle
// per attempt. Only transient contention errors are retried; anything else
// propagates immediately after the rollback inside Run. Exhausting the
// attempts propagates the last contention error.
func RunWithRetry[T any](ctx context.Context, src HandleSource, log *zap.Logger, label string, maxAttempts int, op func(h TxHandle) (T, error)) (T, error) {
	var zero T
	var last error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := Run(ctx, src.NewHandle(), log, label, op)
		if err == nil {
			return out, nil
		}
		if !IsTransientContention(err) {
			return zero, err
		}
		last = err
		if attempt == maxAttempts {
			break
		}

		if obs, ok := src.(RetryObserver); ok {
			obs.ObserveRetry(label)
		}
		delay := retryBaseDelay * (1 << attempt) // 2^attempt * 100ms
		log.Warn("transient contention, retrying",
			zap.String("op", label),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, last
}

// IsTransientContention reports whether err is lock contention worth retrying:
// a serialization failure, deadlock, or lock timeout, identified by SQLSTATE
// on the structured driver error or by message substring as a fallback.
func IsTransientContention(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "lock timeout")
}
