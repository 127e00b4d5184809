// priority_queue.go: stable binary-heap priority queue
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import "container/heap"

// pqNode is a queued element with its heap position and insertion order.
type pqNode[E comparable] struct {
	value E
	seq   uint64
	index int
}

// PriorityQueue is a min-priority queue ordered by a comparison function.
//
// Elements that compare equal leave the queue in insertion order. Any
// queued element can be removed by value, not just the minimum; removal
// locates the element by identity, so it keeps working even if the
// element's ordering key changed after Push.
//
// PriorityQueue is not safe for concurrent use.
type PriorityQueue[E comparable] struct {
	cmp   func(a, b E) int
	nodes []*pqNode[E]
	index map[E]*pqNode[E]
	seq   uint64
}

// NewPriorityQueue creates an empty queue. cmp returns a negative number
// when a sorts before b, zero when equal and a positive number otherwise.
func NewPriorityQueue[E comparable](cmp func(a, b E) int) *PriorityQueue[E] {
	return &PriorityQueue[E]{
		cmp:   cmp,
		index: make(map[E]*pqNode[E]),
	}
}

// Push inserts e. If e is already queued it is re-positioned as if it had
// just been inserted.
func (q *PriorityQueue[E]) Push(e E) {
	q.seq++
	if n, ok := q.index[e]; ok {
		n.seq = q.seq
		heap.Fix((*pqHeap[E])(q), n.index)
		return
	}
	n := &pqNode[E]{value: e, seq: q.seq}
	q.index[e] = n
	heap.Push((*pqHeap[E])(q), n)
}

// Peek returns the minimum element without removing it.
func (q *PriorityQueue[E]) Peek() (E, bool) {
	if len(q.nodes) == 0 {
		var zero E
		return zero, false
	}
	return q.nodes[0].value, true
}

// Pop removes and returns the minimum element.
func (q *PriorityQueue[E]) Pop() (E, bool) {
	if len(q.nodes) == 0 {
		var zero E
		return zero, false
	}
	n := heap.Pop((*pqHeap[E])(q)).(*pqNode[E])
	delete(q.index, n.value)
	return n.value, true
}

// Remove deletes e from the queue. Returns false if e was not queued.
func (q *PriorityQueue[E]) Remove(e E) bool {
	n, ok := q.index[e]
	if !ok {
		return false
	}
	heap.Remove((*pqHeap[E])(q), n.index)
	delete(q.index, e)
	return true
}

// Contains reports whether e is queued.
func (q *PriorityQueue[E]) Contains(e E) bool {
	_, ok := q.index[e]
	return ok
}

// Clear removes every element.
func (q *PriorityQueue[E]) Clear() {
	q.nodes = nil
	q.index = make(map[E]*pqNode[E])
}

// IsEmpty reports whether the queue holds no element.
func (q *PriorityQueue[E]) IsEmpty() bool {
	return len(q.nodes) == 0
}

// Len returns the number of queued elements.
func (q *PriorityQueue[E]) Len() int {
	return len(q.nodes)
}

// pqHeap adapts PriorityQueue to container/heap.
type pqHeap[E comparable] PriorityQueue[E]

func (h *pqHeap[E]) Len() int { return len(h.nodes) }

func (h *pqHeap[E]) Less(i, j int) bool {
	a, b := h.nodes[i], h.nodes[j]
	if c := h.cmp(a.value, b.value); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func (h *pqHeap[E]) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].index = i
	h.nodes[j].index = j
}

func (h *pqHeap[E]) Push(x any) {
	n := x.(*pqNode[E])
	n.index = len(h.nodes)
	h.nodes = append(h.nodes, n)
}

func (h *pqHeap[E]) Pop() any {
	old := h.nodes
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	h.nodes = old[:last]
	return n
}
