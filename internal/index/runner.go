package index

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loupe-dev/loupe/internal/watcher"
)

// Runner consumes the watcher's event stream and drives the coordinator.
// Events are serialized per repo id (one worker goroutine per repo) so
// commits for a repo happen in FIFO order while different repos progress in
// parallel.
type Runner struct {
	coord *Coordinator

	mu      sync.Mutex
	queues  map[string]chan watcher.FileEvent
	pending sync.WaitGroup
	workers sync.WaitGroup

	queueSize int
}

// NewRunner creates a runner over the coordinator.
func NewRunner(coord *Coordinator, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Runner{
		coord:     coord,
		queues:    make(map[string]chan watcher.FileEvent),
		queueSize: queueSize,
	}
}

// Run dispatches events until the stream closes or ctx is cancelled.
// Blocks; callers run it in a goroutine.
func (r *Runner) Run(ctx context.Context, events <-chan watcher.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			r.closeQueues()
			r.workers.Wait()
			return
		case ev, ok := <-events:
			if !ok {
				r.closeQueues()
				r.workers.Wait()
				return
			}
			r.pending.Add(1)
			r.queueFor(ctx, ev.RepoID) <- ev
		}
	}
}

// queueFor lazily starts the per-repo worker.
func (r *Runner) queueFor(ctx context.Context, repoID string) chan watcher.FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[repoID]; ok {
		return q
	}

	q := make(chan watcher.FileEvent, r.queueSize)
	r.queues[repoID] = q
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		for ev := range q {
			if err := r.coord.HandleEvent(ctx, ev); err != nil {
				slog.Warn("event_failed",
					slog.String("repo", ev.RepoID),
					slog.String("path", ev.Path),
					slog.String("kind", ev.Kind.String()),
					slog.String("error", err.Error()))
			}
			r.pending.Done()
		}
	}()
	return q
}

func (r *Runner) closeQueues() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, q := range r.queues {
		close(q)
		delete(r.queues, id)
	}
}

// Quiesce blocks until every dispatched event has been processed. The test
// suite's barrier between file mutations and assertions.
func (r *Runner) Quiesce() {
	r.pending.Wait()
}
