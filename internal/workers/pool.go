// Package workers provides fixed-size worker pools that keep long
// directory scans and file streams from competing for the same goroutines.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/metrics"
)

// ErrStopped is returned when submitting to a pool that has been stopped.
var ErrStopped = errors.New("worker pool stopped")

// Job is a unit of work. It receives the context it was submitted with.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	fn   Job
	done chan error
}

// Pool runs jobs on a fixed number of goroutines. Pools are created with
// New, started once with Start and drained with Stop.
type Pool struct {
	name    string
	workers int
	queue   chan *task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
	busy    atomic.Int64
}

// New creates a pool with the given number of workers and queue capacity.
func New(name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		name:    name,
		workers: workers,
		queue:   make(chan *task, queueSize),
	}
}

// Name returns the pool name used in logs and metrics.
func (p *Pool) Name() string { return p.name }

// Size returns the number of workers.
func (p *Pool) Size() int { return p.workers }

// Busy returns the number of workers currently running a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Start launches the worker goroutines. Calling Start more than once has
// no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logging.Info("worker pool started", zap.String("pool", p.name), zap.Int("workers", p.workers))
}

// Stop rejects new jobs, lets the workers finish everything already queued
// and waits for them to exit. Queued jobs whose context has been cancelled
// are skipped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		for t := range p.queue {
			t.done <- ErrStopped
		}
		return
	}
	p.wg.Wait()
	logging.Info("worker pool stopped", zap.String("pool", p.name))
}

// Submit queues fn and returns a channel that receives its result. It
// blocks while the queue is full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, fn Job) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrStopped
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.queue <- t:
		metrics.SetPoolQueued(p.name, len(p.queue))
		return t.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn on the pool and waits for it to return. Once fn has started,
// Do waits for it even if ctx is cancelled, so fn may safely use resources
// owned by the caller.
func (p *Pool) Do(ctx context.Context, fn Job) error {
	done, err := p.Submit(ctx, fn)
	if err != nil {
		return err
	}
	return <-done
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		metrics.SetPoolQueued(p.name, len(p.queue))
		t.done <- p.run(t)
	}
}

func (p *Pool) run(t *task) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	metrics.SetPoolBusy(p.name, p.busy.Add(1))
	defer func() {
		if r := recover(); r != nil {
			logging.Error("worker job panicked", zap.String("pool", p.name), zap.Any("panic", r))
			err = fmt.Errorf("worker job panicked: %v", r)
		}
		metrics.SetPoolBusy(p.name, p.busy.Add(-1))
		metrics.RecordPoolJob(p.name, err)
	}()
	return t.fn(t.ctx)
}
