// executor.go: execution contexts for coordinators
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"sync"
)

// Executor runs tasks on an execution context owned by the embedding
// application (for instance the goroutine driving a UI).
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) { f(task) }

// SerialExecutor runs tasks one at a time, in submission order, on a
// single goroutine. Execute never blocks: the queue is unbounded, so tasks
// may post further tasks safely.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
	logger Logger
}

// NewSerialExecutor starts the executor goroutine. Close runs the tasks
// queued before it and then stops; when ctx ends, queued tasks are dropped.
func NewSerialExecutor(ctx context.Context, logger Logger) *SerialExecutor {
	if logger == nil {
		logger = NoOpLogger{}
	}
	e := &SerialExecutor{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go e.loop(ctx)
	return e
}

// Execute queues task. Tasks posted after Close are ignored.
func (e *SerialExecutor) Execute(task func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, task)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close stops the executor and waits for the running task to return.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.wake)
	}
	e.mu.Unlock()
	<-e.done
}

// Done is closed once the executor goroutine has exited.
func (e *SerialExecutor) Done() <-chan struct{} {
	return e.done
}

func (e *SerialExecutor) loop(ctx context.Context) {
	defer close(e.done)
	for {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()

		for _, task := range batch {
			if ctx.Err() != nil {
				return
			}
			e.run(task)
		}

		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.closed = true
			e.mu.Unlock()
			return
		case _, ok := <-e.wake:
			if !ok {
				e.drainClosed()
				return
			}
		}
	}
}

// drainClosed runs tasks queued before Close.
func (e *SerialExecutor) drainClosed() {
	e.mu.Lock()
	batch := e.queue
	e.queue = nil
	e.mu.Unlock()
	for _, task := range batch {
		e.run(task)
	}
}

func (e *SerialExecutor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("executor task panicked", "error", NewErrPanicRecovered("SerialExecutor", r))
		}
	}()
	task()
}

// LockedExecutor returns an Executor that runs every task on its own
// goroutine while holding mu. It lets timer callbacks join a component
// whose state is confined by a mutex instead of a goroutine.
func LockedExecutor(mu sync.Locker) Executor {
	return ExecutorFunc(func(task func()) {
		go func() {
			mu.Lock()
			defer mu.Unlock()
			task()
		}()
	})
}
