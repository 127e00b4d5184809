// actor.go: reference-counted lifecycle for background work
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InstanceID identifies one observer attached to an ActorBlockRunner.
type InstanceID string

// NewInstanceID returns a random InstanceID.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// ActorOptions configures an ActorBlockRunner.
type ActorOptions struct {
	// Scope bounds the lifetime of every Block started. Default: context.Background().
	Scope context.Context

	// KeepAliveTime is how long Block keeps running after the last observer
	// detached. Zero or negative stops on the next executor turn.
	KeepAliveTime time.Duration

	// Block is the background work. It must return once its context is done.
	Block func(ctx context.Context)

	// OnTimeout runs on Executor after the keep-alive elapsed with no
	// observer attached and Block has been cancelled.
	OnTimeout func()

	// Executor serialises keep-alive expiry with Attach and Detach. Required.
	Executor Executor

	// Clock drives the keep-alive timer. Default: system clock.
	Clock Clock

	// Logger receives lifecycle transitions. Default: NoOpLogger.
	Logger Logger

	// Name labels log lines.
	Name string
}

type actorJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ActorBlockRunner runs Block while at least one observer is attached.
//
// The first Attach starts Block. When the last observer detaches a stop is
// scheduled KeepAliveTime later; an Attach before then cancels the stop
// and Block simply keeps running. When the stop fires Block's context is
// cancelled, the runner is reset and OnTimeout is called.
//
// Attach and Detach are not safe for concurrent use: call them from the
// execution context behind Executor (or while holding the lock a
// LockedExecutor uses).
type ActorBlockRunner struct {
	opts     ActorOptions
	attached map[InstanceID]struct{}
	version  uint64
	job      *actorJob
	stopTime func() bool
}

// NewActorBlockRunner creates a stopped runner.
func NewActorBlockRunner(opts ActorOptions) *ActorBlockRunner {
	if opts.Scope == nil {
		opts.Scope = context.Background()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = NoOpLogger{}
	}
	if opts.Executor == nil {
		panic("vela: ActorOptions.Executor is required")
	}
	if opts.Block == nil {
		opts.Block = func(ctx context.Context) { <-ctx.Done() }
	}
	return &ActorBlockRunner{
		opts:     opts,
		attached: make(map[InstanceID]struct{}),
	}
}

// Attach registers id, cancelling any scheduled stop and starting Block if
// id is the first observer.
func (r *ActorBlockRunner) Attach(id InstanceID) {
	r.cancelStop()
	if len(r.attached) == 0 && r.job == nil {
		r.start()
	}
	r.attached[id] = struct{}{}
}

// Detach unregisters id. Detaching the last observer schedules a stop.
// Unknown ids are ignored.
func (r *ActorBlockRunner) Detach(id InstanceID) {
	if _, ok := r.attached[id]; !ok {
		return
	}
	delete(r.attached, id)
	if len(r.attached) == 0 {
		r.scheduleStop()
	}
}

// IsRunning reports whether Block is executing.
func (r *ActorBlockRunner) IsRunning() bool {
	return r.job != nil
}

// AttachedCount returns the number of attached observers.
func (r *ActorBlockRunner) AttachedCount() int {
	return len(r.attached)
}

// StopPending reports whether a keep-alive countdown is in progress.
func (r *ActorBlockRunner) StopPending() bool {
	return r.stopTime != nil
}

// Close cancels Block and any pending stop without calling OnTimeout.
func (r *ActorBlockRunner) Close() {
	r.cancelStop()
	r.reset()
}

func (r *ActorBlockRunner) start() {
	ctx, cancel := context.WithCancel(r.opts.Scope)
	job := &actorJob{cancel: cancel, done: make(chan struct{})}
	r.job = job
	r.opts.Logger.Debug("actor block started", "name", r.opts.Name)

	go func() {
		defer close(job.done)
		defer func() {
			if p := recover(); p != nil {
				r.opts.Logger.Error("actor block panicked", "name", r.opts.Name,
					"error", NewErrPanicRecovered("ActorBlockRunner:"+r.opts.Name, p))
			}
			r.opts.Executor.Execute(func() {
				if r.job == job {
					r.job = nil
				}
			})
		}()
		r.opts.Block(ctx)
	}()
}

func (r *ActorBlockRunner) scheduleStop() {
	r.version++
	v := r.version
	fire := func() {
		r.opts.Executor.Execute(func() {
			if r.version != v || len(r.attached) > 0 {
				return
			}
			r.stopTime = nil
			r.reset()
			r.opts.Logger.Debug("actor keep-alive expired", "name", r.opts.Name)
			if r.opts.OnTimeout != nil {
				r.opts.OnTimeout()
			}
		})
	}
	if r.opts.KeepAliveTime <= 0 {
		r.stopTime = func() bool { return false }
		fire()
		return
	}
	r.stopTime = r.opts.Clock.AfterFunc(r.opts.KeepAliveTime, fire)
	r.opts.Logger.Debug("actor stop scheduled", "name", r.opts.Name, "keep_alive", r.opts.KeepAliveTime)
}

// cancelStop aborts a scheduled stop. Bumping the version also defeats a
// stop whose timer already fired but has not reached the executor yet.
func (r *ActorBlockRunner) cancelStop() {
	if r.stopTime != nil {
		r.stopTime()
		r.stopTime = nil
	}
	r.version++
}

func (r *ActorBlockRunner) reset() {
	if r.job != nil {
		r.job.cancel()
		r.job = nil
	}
	clear(r.attached)
}
