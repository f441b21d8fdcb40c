package forms

import (
	"context"
	"sync"
	"time"
)

// TickFunc performs one best-effort status refresh for a submission. Errors
// are the callee's problem; the watcher keeps ticking regardless.
type TickFunc func(ctx context.Context, submissionID int64)

// Registry owns the per-submission status watchers. At most one watcher runs
// per submission ID; each ticks at a fixed interval and self-terminates after
// a fixed number of ticks. StopAll tears every watcher down and is called on
// service shutdown so no timer outlives its owner.
type Registry struct {
	interval time.Duration
	maxTicks int
	tick     TickFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[int64]struct{}
}

func NewRegistry(interval time.Duration, maxTicks int, tick TickFunc) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		interval: interval,
		maxTicks: maxTicks,
		tick:     tick,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[int64]struct{}),
	}
}

// Start launches a watcher for the submission. Starting one that is already
// running is a no-op.
func (r *Registry) Start(submissionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[submissionID]; ok {
		return
	}
	select {
	case <-r.ctx.Done():
		return
	default:
	}

	r.active[submissionID] = struct{}{}
	r.wg.Add(1)
	go r.run(submissionID)
}

// Watching reports whether a watcher is currently running for the submission.
func (r *Registry) Watching(submissionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[submissionID]
	return ok
}

// Len returns the number of running watchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// StopAll cancels every watcher and waits for them to exit.
func (r *Registry) StopAll() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) run(submissionID int64) {
	defer r.wg.Done()
	defer r.remove(submissionID)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for ticks := 0; ticks < r.maxTicks; {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ticks++
			r.tick(r.ctx, submissionID)
		}
	}
}

func (r *Registry) remove(submissionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, submissionID)
}
