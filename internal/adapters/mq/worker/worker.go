// Package worker drains the notification queue and hands each room event to
// a Dispatcher, which fans it out to subscribers.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/roomsync/internal/adapters/mq/queue"
	"github.com/okian/roomsync/pkg/logger"
	"github.com/okian/roomsync/pkg/metrics"
)

const poolShutdownTimeout = 10 * time.Second

// Queue is the consuming side of queue.Queue.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Event
}

// Dispatcher delivers one room event.
type Dispatcher interface {
	Dispatch(ctx context.Context, e queue.Event) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, e queue.Event) error

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, e queue.Event) error { return f(ctx, e) }

// Worker consumes events until its context ends or the queue closes.
type Worker struct {
	queue      Queue
	dispatcher Dispatcher
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewWorker creates a worker reading from q.
func NewWorker(q Queue, d Dispatcher, opts ...Option) *Worker {
	w := &Worker{
		queue:      q,
		dispatcher: d,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run processes events until ctx is canceled, Shutdown is called, or the
// queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			w.process(ctx, e)
		}
	}
}

// Shutdown stops the worker and waits for the in-flight event.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) process(ctx context.Context, e queue.Event) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
		if r := recover(); r != nil {
			metrics.RecordWorkerError()
			w.logger.Error(ctx, "dispatch panicked", logger.Room(e.RoomID), logger.Any("panic", r))
		}
	}()

	if err := w.dispatcher.Dispatch(ctx, e); err != nil {
		metrics.RecordWorkerError()
		w.logger.Warn(ctx, "dispatch failed",
			logger.Room(e.RoomID),
			logger.Int64("version", e.Version),
			logger.Error(err),
		)
	}
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates count workers logging to l. A non-positive count uses one
// per CPU; a nil l uses the global logger.
func NewPool(count int, q Queue, d Dispatcher, l logger.Logger) *Pool {
	if count < 1 {
		count = runtime.NumCPU()
	}
	if l == nil {
		l = logger.Get()
	}
	p := &Pool{
		workers: make([]*Worker, count),
		queue:   q,
		logger:  l.Named("worker-pool"),
	}
	for i := range p.workers {
		name := "worker-" + strconv.Itoa(i)
		p.workers[i] = NewWorker(q, d, WithName(name), WithLogger(l.Named(name)))
	}
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue if it can be closed, then waits for workers to
// drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-waitCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
