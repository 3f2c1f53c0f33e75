// Package worker runs research jobs on a bounded set of slots.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// DefaultSize is the number of jobs that run at once.
const DefaultSize = 4

var (
	ErrDuplicateJob = errors.New("job already submitted")
	ErrPoolClosed   = errors.New("worker pool is shut down")
)

// Pool runs submitted jobs with at most Size running at once. Jobs beyond
// that wait for a slot in submission order of their goroutines.
type Pool struct {
	logger *slog.Logger
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]struct{}
	closed bool

	running atomic.Int64
	queued  atomic.Int64
}

func New(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger: logger,
		sem:    make(chan struct{}, size),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]struct{}),
	}
}

// Submit schedules fn under id and returns immediately. fn receives a
// context that is cancelled on Shutdown; jobs still waiting for a slot at
// that point run straight away with the cancelled context so they can
// record their own failure.
func (p *Pool) Submit(id string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.jobs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	p.jobs[id] = struct{}{}
	p.wg.Add(1)
	p.setQueued(p.queued.Add(1))

	go p.run(id, fn)
	return nil
}

func (p *Pool) run(id string, fn func(ctx context.Context)) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.jobs, id)
		p.mu.Unlock()
	}()

	acquired := false
	select {
	case p.sem <- struct{}{}:
		acquired = true
	case <-p.ctx.Done():
	}
	p.setQueued(p.queued.Add(-1))
	if acquired {
		defer func() { <-p.sem }()
	}

	p.setRunning(p.running.Add(1))
	defer func() { p.setRunning(p.running.Add(-1)) }()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "job_id", id, "panic", r)
		}
	}()
	fn(p.ctx)
}

// Running returns the number of jobs holding a slot.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Queued returns the number of jobs waiting for a slot.
func (p *Pool) Queued() int { return int(p.queued.Load()) }

// Active reports whether a job with id is queued or running.
func (p *Pool) Active(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[id]
	return ok
}

// Shutdown stops accepting jobs, cancels the running ones and waits for
// them to return or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) setRunning(n int64) { metrics.JobsRunning.Set(float64(n)) }

func (p *Pool) setQueued(n int64) { metrics.JobsQueued.Set(float64(n)) }
