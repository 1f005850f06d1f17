package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeHandle struct {
	beginErr    error
	commitErr   error
	rollbackErr error

	begun      bool
	committed  bool
	rolledBack bool
	releases   int
}

func (h *fakeHandle) Begin(ctx context.Context) error {
	if h.beginErr != nil {
		return h.beginErr
	}
	h.begun = true
	return nil
}

func (h *fakeHandle) Commit() error {
	if h.commitErr != nil {
		return h.commitErr
	}
	h.committed = true
	return nil
}

func (h *fakeHandle) Rollback() error {
	h.rolledBack = true
	return h.rollbackErr
}

func (h *fakeHandle) Release()     { h.releases++ }
func (h *fakeHandle) DB() *gorm.DB { return nil }

type fakeSource struct {
	handles []*fakeHandle
	next    func() *fakeHandle
	retries []string
}

func (s *fakeSource) NewHandle() TxHandle {
	h := s.next()
	s.handles = append(s.handles, h)
	return h
}

func (s *fakeSource) ObserveRetry(label string) {
	s.retries = append(s.retries, label)
}

func newFakeSource(mk func() *fakeHandle) *fakeSource {
	return &fakeSource{next: mk}
}

func TestRunCommitsOnSuccess(t *testing.T) {
	h := &fakeHandle{}
	out, err := Run(context.Background(), h, zap.NewNop(), "test", func(TxHandle) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 42 {
		t.Errorf("out = %d, want 42", out)
	}
	if !h.committed {
		t.Error("commit not called")
	}
	if h.rolledBack {
		t.Error("rollback called on success")
	}
	if h.releases != 1 {
		t.Errorf("releases = %d, want 1", h.releases)
	}
}

func TestRunRollsBackOnOpError(t *testing.T) {
	opErr := errors.New("op failed")
	h := &fakeHandle{}
	_, err := Run(context.Background(), h, zap.NewNop(), "test", func(TxHandle) (int, error) {
		return 0, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("got %v, want op error", err)
	}
	if !h.rolledBack {
		t.Error("rollback not called")
	}
	if h.committed {
		t.Error("commit called after op failure")
	}
	if h.releases != 1 {
		t.Errorf("releases = %d, want 1", h.releases)
	}
}

func TestRunRollbackFailureNeverMasksOpError(t *testing.T) {
	opErr := errors.New("op failed")
	h := &fakeHandle{rollbackErr: errors.New("rollback failed")}
	_, err := Run(context.Background(), h, zap.NewNop(), "test", func(TxHandle) (int, error) {
		return 0, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("got %v, want the original op error", err)
	}
}

func TestRunBeginFailure(t *testing.T) {
	beginErr := errors.New("pool exhausted")
	h := &fakeHandle{beginErr: beginErr}
	_, err := Run(context.Background(), h, zap.NewNop(), "test", func(TxHandle) (int, error) {
		t.Fatal("op must not run when begin fails")
		return 0, nil
	})
	if !errors.Is(err, beginErr) {
		t.Fatalf("got %v, want begin error", err)
	}
	if h.releases != 1 {
		t.Errorf("releases = %d, want 1", h.releases)
	}
}

func TestRunCommitFailure(t *testing.T) {
	commitErr := errors.New("connection lost")
	h := &fakeHandle{commitErr: commitErr}
	_, err := Run(context.Background(), h, zap.NewNop(), "test", func(TxHandle) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, commitErr) {
		t.Fatalf("got %v, want commit error", err)
	}
}

func TestRunSequenceStopsAtFirstFailure(t *testing.T) {
	stepErr := errors.New("step two broke")
	var ran []int
	ops := []func(TxHandle) (int, error){
		func(TxHandle) (int, error) { ran = append(ran, 1); return 1, nil },
		func(TxHandle) (int, error) { ran = append(ran, 2); return 0, stepErr },
		func(TxHandle) (int, error) { ran = append(ran, 3); return 3, nil },
	}

	h := &fakeHandle{}
	_, err := RunSequence(context.Background(), h, zap.NewNop(), "seq", ops)
	if !errors.Is(err, stepErr) {
		t.Fatalf("got %v, want step error", err)
	}
	if len(ran) != 2 {
		t.Errorf("ran %v, want steps 1 and 2 only", ran)
	}
	if !h.rolledBack || h.committed {
		t.Error("failed sequence must roll back, not commit")
	}
}

func TestRunSequenceCollectsResults(t *testing.T) {
	ops := []func(TxHandle) (int, error){
		func(TxHandle) (int, error) { return 10, nil },
		func(TxHandle) (int, error) { return 20, nil },
	}

	h := &fakeHandle{}
	out, err := RunSequence(context.Background(), h, zap.NewNop(), "seq", ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != 10 || out[1] != 20 {
		t.Errorf("out = %v, want [10 20]", out)
	}
	if !h.committed {
		t.Error("commit not called")
	}
}

func TestRunWithRetryDoesNotRetryOrdinaryErrors(t *testing.T) {
	opErr := errors.New("validation failed")
	src := newFakeSource(func() *fakeHandle { return &fakeHandle{} })

	attempts := 0
	_, err := RunWithRetry(context.Background(), src, zap.NewNop(), "test", 3, func(TxHandle) (int, error) {
		attempts++
		return 0, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("got %v, want op error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(src.retries) != 0 {
		t.Errorf("retries observed = %v, want none", src.retries)
	}
}

func TestRunWithRetryRetriesContention(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	src := newFakeSource(func() *fakeHandle { return &fakeHandle{} })

	attempts := 0
	out, err := RunWithRetry(context.Background(), src, zap.NewNop(), "test", 3, func(TxHandle) (int, error) {
		attempts++
		if attempts < 2 {
			return 0, deadlock
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 7 {
		t.Errorf("out = %d, want 7", out)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	// Every attempt consumed its own handle, each released exactly once.
	if len(src.handles) != 2 {
		t.Fatalf("handles minted = %d, want 2", len(src.handles))
	}
	for i, h := range src.handles {
		if h.releases != 1 {
			t.Errorf("handle %d: releases = %d, want 1", i, h.releases)
		}
	}
	// One retry happened, and it was reported to the source.
	if len(src.retries) != 1 || src.retries[0] != "test" {
		t.Errorf("retries observed = %v, want [test]", src.retries)
	}
}

func TestRunWithRetryExhaustsAttempts(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	src := newFakeSource(func() *fakeHandle { return &fakeHandle{} })

	attempts := 0
	_, err := RunWithRetry(context.Background(), src, zap.NewNop(), "test", 2, func(TxHandle) (int, error) {
		attempts++
		return 0, deadlock
	})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "40001" {
		t.Fatalf("got %v, want the last contention error", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRunWithRetryHonorsContextDuringBackoff(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	src := newFakeSource(func() *fakeHandle { return &fakeHandle{} })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := RunWithRetry(ctx, src, zap.NewNop(), "test", 5, func(TxHandle) (int, error) {
		return 0, deadlock
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("waited %v despite cancelled context", elapsed)
	}
}

func TestIsTransientContention(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure code", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock code", &pgconn.PgError{Code: "40P01"}, true},
		{"lock not available code", &pgconn.PgError{Code: "55P03"}, true},
		{"unique violation code", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"deadlock message", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"serialize message", errors.New("could not serialize access due to concurrent update"), true},
		{"lock timeout message", errors.New("canceling statement due to lock timeout"), true},
		{"ordinary error", errors.New("record not found"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransientContention(tc.err); got != tc.want {
				t.Errorf("IsTransientContention(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
