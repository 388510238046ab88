package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

// DefaultWatchDebounce coalesces bursts of file events into one poll.
const DefaultWatchDebounce = 100 * time.Millisecond

// ErrWatchUnsupported is returned when watching an in-memory database.
var ErrWatchUnsupported = errors.New("sqlite: cannot watch an in-memory database")

// Watcher republishes rows written by other processes. It watches the
// database file and its WAL for writes, then polls for messages and workflows
// past its high-water marks. Rows written by this process are republished
// too, so subscribers see them at least once and possibly twice.
type Watcher struct {
	db       *DB
	store    *Store
	debounce time.Duration

	mu        sync.Mutex
	lastSeq   int64
	lastWfAt  int64
	fsw       *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWatcher creates a watcher for db. A non-positive debounce uses DefaultWatchDebounce.
func NewWatcher(db *DB, debounce time.Duration) (*Watcher, error) {
	if db.path == MemoryPath {
		return nil, ErrWatchUnsupported
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &Watcher{db: db, store: db.Store(), debounce: debounce}, nil
}

// Start records the current high-water marks and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}

	seq, err := w.store.maxSeq(ctx)
	if err != nil {
		return err
	}
	wfAt, err := w.store.maxUpdatedAt(ctx)
	if err != nil {
		return err
	}
	w.lastSeq, w.lastWfAt = seq, wfAt

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// The WAL file comes and goes, so watch the directory and filter by name.
	if err := fsw.Add(filepath.Dir(w.db.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw, w.cancel, w.done = fsw, cancel, make(chan struct{})

	log.SafeGo("sqlite.watcher", func() {
		defer close(w.done)
		w.loop(runCtx, fsw)
	})
	log.Debug(log.CatDB, "Watching database for external writes", "path", w.db.path, "debounce", w.debounce.String())
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, cancel, done := w.fsw, w.cancel, w.done
	w.fsw = nil
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	cancel()
	_ = fsw.Close()
	<-done
}

// Poll scans for rows past the high-water marks and republishes them. The
// loop calls it after each debounced burst; tests call it directly.
func (w *Watcher) Poll(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	msgs, err := w.store.messagesAfter(ctx, w.lastSeq)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		w.db.broker.Publish(pubsub.CreatedEvent, domain.MessageInserted(m.toDomain()))
		w.lastSeq = max(w.lastSeq, m.Seq)
	}

	wfs, hwm, err := w.store.workflowsUpdatedAfter(ctx, w.lastWfAt)
	if err != nil {
		return err
	}
	for _, wf := range wfs {
		w.db.broker.Publish(pubsub.UpdatedEvent, domain.WorkflowUpdated(wf))
	}
	w.lastWfAt = hwm
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	relevant := map[string]bool{
		filepath.Clean(w.db.path):          true,
		filepath.Clean(w.db.path + "-wal"): true,
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !relevant[filepath.Clean(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatDB, "Database watcher error", err)
		case <-timerC:
			timerC = nil
			if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
				log.ErrorErr(log.CatDB, "Failed to poll for external writes", err)
			}
		}
	}
}
