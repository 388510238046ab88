package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/zjrosen/crewchat/internal/log"
)

// Task is a unit of background work detached from the request that
// scheduled it. Its outcome is observable only through the store and
// through OnFailure.
type Task struct {
	Name           string
	ConversationID string
	// Delay is waited out before Run. Shutdown during the delay skips Run
	// and reports ErrTaskCancelled.
	Delay time.Duration
	Run   func(ctx context.Context) error
	// OnFailure is called with the error from Run, a recovered panic, or
	// ErrTaskCancelled. Optional.
	OnFailure func(ctx context.Context, err error)
}

// RunnerStats counts task outcomes.
type RunnerStats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
}

// Runner executes Tasks on their own goroutines with a runner-owned
// context, so a task outlives the request that submitted it.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}

	mu     sync.Mutex
	closed bool
	wg     conc.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewRunner creates a Runner ready to accept tasks.
func NewRunner() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}
}

// Submit schedules t and returns immediately.
func (r *Runner) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no Run function", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}

	r.submitted.Add(1)
	r.wg.Go(func() { r.execute(t) })
	log.Debug(log.CatCoord, "Task submitted", "task", t.Name, "conversation", t.ConversationID, "delay", t.Delay.String())
	return nil
}

func (r *Runner) execute(t Task) {
	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		select {
		case <-timer.C:
		case <-r.stop:
			timer.Stop()
			r.fail(t, ErrTaskCancelled)
			return
		}
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = t.Run(r.ctx) })
	if rec := pc.Recovered(); rec != nil {
		err = fmt.Errorf("task %s panicked: %w", t.Name, rec.AsError())
	}

	if err != nil {
		r.fail(t, err)
		return
	}
	r.succeeded.Add(1)
	log.Debug(log.CatCoord, "Task completed", "task", t.Name, "conversation", t.ConversationID)
}

func (r *Runner) fail(t Task, err error) {
	r.failed.Add(1)
	log.ErrorErr(log.CatCoord, "Background task failed", err, "task", t.Name, "conversation", t.ConversationID)
	if t.OnFailure == nil {
		return
	}

	// Failure handling must still reach the store after shutdown cancelled r.ctx.
	ctx := context.WithoutCancel(r.ctx)
	var pc panics.Catcher
	pc.Try(func() { t.OnFailure(ctx, err) })
	if rec := pc.Recovered(); rec != nil {
		log.ErrorErr(log.CatCoord, "Task failure handler panicked", rec.AsError(), "task", t.Name)
	}
}

// Stats returns a snapshot of task outcome counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Submitted: r.submitted.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
	}
}

// Shutdown stops accepting tasks, cancels pending delays, and waits for
// running tasks. If ctx expires first, running tasks are cancelled and
// Shutdown still waits for them to return.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.stop)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		log.Warn(log.CatCoord, "Shutdown deadline reached, cancelling running tasks")
		r.cancel()
		<-done
		return ctx.Err()
	}
}
