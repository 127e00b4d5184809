// batch.go: chunked task dispatch with size and time bounds
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"sync"
	"time"
)

// ChunkedWithTimeout groups values from in into slices of at most size
// elements. A chunk is emitted when it is full or when interval has passed
// since its last element arrived. When in is closed the partial chunk is
// emitted and the output channel closed. Order is preserved and no value
// is dropped unless ctx ends first.
//
// A non-positive interval emits each chunk as soon as in has nothing more
// ready to read.
func ChunkedWithTimeout[T any](ctx context.Context, in <-chan T, size int, interval time.Duration, clock Clock) <-chan []T {
	if size < 1 {
		size = 1
	}
	if clock == nil {
		clock = SystemClock()
	}
	out := make(chan []T)

	go func() {
		defer close(out)

		var (
			chunk []T
			gen   uint64
			stop  func() bool
		)
		fired := make(chan uint64, 1)
		exited := make(chan struct{})
		defer close(exited)

		disarm := func() {
			if stop != nil {
				stop()
				stop = nil
			}
			gen++
		}
		arm := func() {
			disarm()
			g := gen
			stop = clock.AfterFunc(interval, func() {
				select {
				case fired <- g:
				case <-exited:
				}
			})
		}
		flush := func() bool {
			disarm()
			if len(chunk) == 0 {
				return true
			}
			c := chunk
			chunk = nil
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case v, ok := <-in:
				if !ok {
					flush()
					return
				}
				chunk = append(chunk, v)
				switch {
				case len(chunk) >= size:
					if !flush() {
						return
					}
				case interval <= 0:
					if len(in) == 0 && !flush() {
						return
					}
				default:
					arm()
				}
			case g := <-fired:
				if g == gen && !flush() {
					return
				}
			case <-ctx.Done():
				disarm()
				return
			}
		}
	}()
	return out
}

// BatchOptions configures a BatchScheduler.
type BatchOptions struct {
	// ChunkSize is the maximum number of tasks per dispatch.
	// Default: DefaultBatchChunkSize.
	ChunkSize int

	// Interval closes a chunk once no task has arrived for this long.
	// Default: DefaultBatchInterval. A negative value dispatches as soon as
	// the intake is idle.
	Interval time.Duration

	// Buffer is the intake channel capacity. Default: ChunkSize.
	Buffer int

	// Executor runs each chunk. Required.
	Executor Executor

	// Clock drives the debounce timer. Default: system clock.
	Clock Clock

	// Logger reports panics recovered from tasks. Default: NoOpLogger.
	Logger Logger
}

// BatchScheduler coalesces posted tasks into chunks bounded by count and
// time, and hands every chunk to an Executor where its tasks run in
// arrival order.
type BatchScheduler struct {
	mu     sync.RWMutex
	tasks  chan func()
	closed bool
	scope  context.Context
	done   chan struct{}
	exec   Executor
	logger Logger
}

// NewBatchScheduler starts a scheduler bound to ctx. When ctx ends, pending
// tasks are discarded and Post fails.
func NewBatchScheduler(ctx context.Context, opts BatchOptions) *BatchScheduler {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultBatchChunkSize
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultBatchInterval
	}
	if opts.Buffer <= 0 {
		opts.Buffer = opts.ChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = NoOpLogger{}
	}
	if opts.Executor == nil {
		panic("vela: BatchOptions.Executor is required")
	}

	s := &BatchScheduler{
		tasks:  make(chan func(), opts.Buffer),
		scope:  ctx,
		done:   make(chan struct{}),
		exec:   opts.Executor,
		logger: opts.Logger,
	}
	chunks := ChunkedWithTimeout(ctx, s.tasks, opts.ChunkSize, opts.Interval, opts.Clock)
	go func() {
		defer close(s.done)
		for chunk := range chunks {
			s.dispatch(chunk)
		}
	}()
	return s
}

// Post enqueues task. It only waits for room in the intake channel, never
// for the task to run.
func (s *BatchScheduler) Post(ctx context.Context, task func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return NewErrSchedulerClosed()
	}
	select {
	case s.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.scope.Done():
		return NewErrSchedulerClosed()
	}
}

// Close stops intake and waits until the last partial chunk has been
// handed to the executor.
func (s *BatchScheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *BatchScheduler) dispatch(chunk []func()) {
	s.exec.Execute(func() {
		for _, task := range chunk {
			s.run(task)
		}
	})
}

func (s *BatchScheduler) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("batched task panicked", "error", NewErrPanicRecovered("BatchScheduler", r))
		}
	}()
	task()
}
