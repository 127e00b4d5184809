// notifier.go: listener registry for push-style signals
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import "sync"

// Listenable is a source of events of type E.
type Listenable[E any] interface {
	// AddListener registers listener and returns a function removing it.
	// Calling remove more than once is harmless.
	AddListener(listener func(E)) (remove func())
}

// Notifier is a Listenable that platform code pushes events into.
// The zero value is ready to use and safe for concurrent use.
type Notifier[E any] struct {
	mu        sync.Mutex
	seq       uint64
	listeners []notifierEntry[E]
}

type notifierEntry[E any] struct {
	id uint64
	fn func(E)
}

// AddListener implements Listenable.
func (n *Notifier[E]) AddListener(listener func(E)) func() {
	n.mu.Lock()
	n.seq++
	id := n.seq
	n.listeners = append(n.listeners, notifierEntry[E]{id: id, fn: listener})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

// Notify calls every listener with e, in registration order, on the
// calling goroutine. Listeners added or removed during Notify take effect
// from the next call.
func (n *Notifier[E]) Notify(e E) {
	n.mu.Lock()
	snapshot := make([]func(E), len(n.listeners))
	for i, l := range n.listeners {
		snapshot[i] = l.fn
	}
	n.mu.Unlock()

	for _, fn := range snapshot {
		fn(e)
	}
}

// Len returns the number of registered listeners.
func (n *Notifier[E]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func (n *Notifier[E]) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}
