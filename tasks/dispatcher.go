/*
dispatcher.go - Fire-and-forget background work

PURPOSE:
  Runs small side effects (view/click counters) off the request path.
  A fixed set of workers drains a bounded queue.

SEMANTICS:
  - At most once: a task runs once or not at all, never retried
  - Submit never blocks; a full queue drops the task and counts it
  - A panicking task is logged and does not kill its worker
  - Close stops intake and waits for queued tasks until ctx expires

USAGE:
  d := tasks.NewDispatcher(log, tasks.Config{Workers: 4, QueueSize: 256})
  d.Submit("carousel.view", func(ctx context.Context) error { ... })
  defer d.Close(shutdownCtx)
*/
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("dispatcher closed")

// Func is one unit of background work.
type Func func(ctx context.Context) error

// Recorder counts dropped tasks. The metrics package implements it.
type Recorder interface {
	TaskDropped(name string)
}

type nopRecorder struct{}

func (nopRecorder) TaskDropped(string) {}

// Config sizes the dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	Metrics   Recorder
}

type job struct {
	name string
	fn   Func
}

// Dispatcher runs submitted tasks on a fixed worker pool.
type Dispatcher struct {
	log     *slog.Logger
	metrics Recorder
	queue   chan job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers.
func NewDispatcher(log *slog.Logger, cfg Config) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:     log,
		metrics: cfg.Metrics,
		queue:   make(chan job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Submit queues fn. It returns false when the task was dropped.
func (d *Dispatcher) Submit(name string, fn Func) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(name, "closed")
		return false
	}
	select {
	case d.queue <- job{name: name, fn: fn}:
		return true
	default:
		d.drop(name, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(name, reason string) {
	d.metrics.TaskDropped(name)
	d.log.Warn("task dropped", slog.String("task", name), slog.String("reason", reason))
}

// Close stops intake and waits for the queue to drain. If ctx expires first
// the running tasks see a cancelled context and Close returns ctx.Err().
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		if d.ctx.Err() != nil {
			d.drop(j.name, "shutting down")
			continue
		}
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("task panicked",
				slog.String("task", j.name),
				slog.Any("panic", fmt.Sprint(r)))
		}
	}()

	if err := j.fn(d.ctx); err != nil {
		d.log.Warn("task failed", slog.String("task", j.name), slog.Any("error", err))
	}
}
