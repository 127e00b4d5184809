// store.go: observable state container with batched notifications
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"sync"
)

// Store holds a value of type S and notifies subscribers when it changes.
//
// With a BatchScheduler, notifications are posted to it: any number of
// updates made before the posted task runs produce a single notification
// carrying the latest state. Without one, subscribers are called
// synchronously after each update.
type Store[S any] struct {
	mu        sync.Mutex
	state     S
	pending   bool
	listeners Notifier[S]
	scheduler *BatchScheduler
	logger    Logger
}

// NewStore creates a store holding initial. scheduler may be nil.
func NewStore[S any](initial S, scheduler *BatchScheduler, logger Logger) *Store[S] {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Store[S]{state: initial, scheduler: scheduler, logger: logger}
}

// Get returns the current state.
func (s *Store[S]) Get() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set replaces the state.
func (s *Store[S]) Set(state S) {
	s.Update(func(S) S { return state })
}

// Update replaces the state with fn(state) and returns the new state.
// fn must not call back into the store.
func (s *Store[S]) Update(fn func(S) S) S {
	s.mu.Lock()
	s.state = fn(s.state)
	state := s.state
	if s.scheduler == nil {
		s.mu.Unlock()
		s.listeners.Notify(state)
		return state
	}
	post := !s.pending
	s.pending = true
	s.mu.Unlock()

	if post {
		if err := s.scheduler.Post(context.Background(), s.flush); err != nil {
			s.mu.Lock()
			s.pending = false
			s.mu.Unlock()
			s.logger.Debug("store notification dropped", "error", err)
		}
	}
	return state
}

// Subscribe registers fn for future changes and returns a function that
// removes it.
func (s *Store[S]) Subscribe(fn func(S)) (unsubscribe func()) {
	return s.listeners.AddListener(fn)
}

// Subscribers returns the number of registered subscribers.
func (s *Store[S]) Subscribers() int {
	return s.listeners.Len()
}

func (s *Store[S]) flush() {
	s.mu.Lock()
	s.pending = false
	state := s.state
	s.mu.Unlock()
	s.listeners.Notify(state)
}
