package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingDeleter struct {
	calls atomic.Int32
	err   error
}

func (d *countingDeleter) DeleteExpired(context.Context) (int64, error) {
	d.calls.Add(1)
	return 3, d.err
}

func TestRunSessionSweeperStopsWithContext(t *testing.T) {
	d := &countingDeleter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunSessionSweeper(ctx, d, 5*time.Millisecond, zap.NewNop())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for d.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sweep(context.Background(), &countingDeleter{err: errors.New("db down")}, zap.New(core))
	if logs.FilterMessage("expired session sweep failed").Len() != 1 {
		t.Fatal("expected failure log")
	}

	core, logs = observer.New(zap.InfoLevel)
	sweep(context.Background(), &countingDeleter{}, zap.New(core))
	if logs.FilterMessage("expired sessions removed").Len() != 1 {
		t.Fatal("expected removal log")
	}
}
