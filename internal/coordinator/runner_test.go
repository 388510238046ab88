package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsTask(t *testing.T) {
	r := NewRunner()
	done := make(chan struct{})
	require.NoError(t, r.Submit(Task{
		Name: "ok",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
		OnFailure: func(context.Context, error) { assert.Fail(t, "unexpected failure") },
	}))

	<-done
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, RunnerStats{Submitted: 1, Succeeded: 1}, r.Stats())
}

func TestRunner_ReportsErrorsAndPanics(t *testing.T) {
	tests := []struct {
		name    string
		run     func(context.Context) error
		wantErr string
	}{
		{
			name:    "error",
			run:     func(context.Context) error { return errors.New("upstream down") },
			wantErr: "upstream down",
		},
		{
			name:    "panic",
			run:     func(context.Context) error { panic("boom") },
			wantErr: "task flaky panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner()
			failures := make(chan error, 1)
			require.NoError(t, r.Submit(Task{
				Name:      "flaky",
				Run:       tt.run,
				OnFailure: func(_ context.Context, err error) { failures <- err },
			}))
			require.NoError(t, r.Shutdown(context.Background()))

			select {
			case err := <-failures:
				assert.Contains(t, err.Error(), tt.wantErr)
			default:
				t.Fatal("OnFailure was not called")
			}
			assert.EqualValues(t, 1, r.Stats().Failed)
		})
	}
}

func TestRunner_WaitsOutDelay(t *testing.T) {
	r := NewRunner()
	start := time.Now()
	var ranAfter atomic.Int64
	require.NoError(t, r.Submit(Task{
		Name:  "delayed",
		Delay: 30 * time.Millisecond,
		Run: func(context.Context) error {
			ranAfter.Store(int64(time.Since(start)))
			return nil
		},
	}))

	require.Eventually(t, func() bool { return r.Stats().Succeeded == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Duration(ranAfter.Load()), 30*time.Millisecond)
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_ShutdownCancelsPendingDelay(t *testing.T) {
	r := NewRunner()
	var ran atomic.Bool
	failures := make(chan error, 1)
	require.NoError(t, r.Submit(Task{
		Name:      "never",
		Delay:     time.Hour,
		Run:       func(context.Context) error { ran.Store(true); return nil },
		OnFailure: func(_ context.Context, err error) { failures <- err },
	}))

	require.NoError(t, r.Shutdown(context.Background()))
	assert.False(t, ran.Load())
	assert.ErrorIs(t, <-failures, ErrTaskCancelled)
}

func TestRunner_FailureHandlerGetsLiveContext(t *testing.T) {
	r := NewRunner()
	ctxErr := make(chan error, 1)
	require.NoError(t, r.Submit(Task{
		Name:      "cancelled",
		Delay:     time.Hour,
		Run:       func(context.Context) error { return nil },
		OnFailure: func(ctx context.Context, _ error) { ctxErr <- ctx.Err() },
	}))
	require.NoError(t, r.Shutdown(context.Background()))
	assert.NoError(t, <-ctxErr)
}

func TestRunner_ShutdownDeadlineCancelsRunningTask(t *testing.T) {
	r := NewRunner()
	started := make(chan struct{})
	require.NoError(t, r.Submit(Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, r.Stats().Failed)
}

func TestRunner_SubmitAfterShutdown(t *testing.T) {
	r := NewRunner()
	require.NoError(t, r.Shutdown(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()), "shutdown is idempotent")

	err := r.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrRunnerClosed)
}

func TestRunner_RejectsTaskWithoutRun(t *testing.T) {
	r := NewRunner()
	defer func() { _ = r.Shutdown(context.Background()) }()
	require.Error(t, r.Submit(Task{Name: "empty"}))
	assert.Zero(t, r.Stats().Submitted)
}
