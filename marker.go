// marker.go: persistent, immutable property bag attached to query calls
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"reflect"
	"strings"
)

// MarkerKey identifies a kind of MarkerElement. Keys compare by pointer, so
// two keys created with the same name are still distinct.
type MarkerKey struct {
	name string
}

// NewMarkerKey creates a key. The name is used only for display.
func NewMarkerKey(name string) *MarkerKey {
	return &MarkerKey{name: name}
}

// String returns the key name.
func (k *MarkerKey) String() string {
	if k == nil {
		return "<nil>"
	}
	return k.name
}

// MarkerElement is one value stored in a Marker, under its own key.
//
// Elements may implement Equal(MarkerElement) bool; otherwise they are
// compared with reflect.DeepEqual.
type MarkerElement interface {
	MarkerKey() *MarkerKey
}

// Marker is an immutable set of elements with at most one element per key.
// Every operation returns a new Marker and leaves the receiver untouched.
type Marker interface {
	// Get returns the element stored under key.
	Get(key *MarkerKey) (MarkerElement, bool)

	// Plus returns a marker holding the elements of both. For keys present
	// in both, other's element wins.
	Plus(other Marker) Marker

	// MinusKey returns a marker without the element stored under key.
	MinusKey(key *MarkerKey) Marker

	// Fold accumulates over the elements, oldest first.
	Fold(initial any, op func(acc any, element MarkerElement) any) any

	// Len returns the number of elements.
	Len() int

	// Equal reports whether both markers hold equal elements under the
	// same keys, regardless of insertion order.
	Equal(other Marker) bool

	String() string
}

// EmptyMarker holds no elements.
var EmptyMarker Marker = emptyMarker{}

// MarkerOf returns a marker holding elements. Later elements replace
// earlier ones with the same key. Nil elements are skipped.
func MarkerOf(elements ...MarkerElement) Marker {
	m := EmptyMarker
	for _, e := range elements {
		if e == nil {
			continue
		}
		m = plusElement(m, e)
	}
	return m
}

// MarkerValue returns the element stored under key as an E.
func MarkerValue[E MarkerElement](m Marker, key *MarkerKey) (E, bool) {
	var zero E
	if m == nil {
		return zero, false
	}
	e, ok := m.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := e.(E)
	return typed, ok
}

type emptyMarker struct{}

func (emptyMarker) Get(*MarkerKey) (MarkerElement, bool) { return nil, false }
func (emptyMarker) MinusKey(*MarkerKey) Marker           { return EmptyMarker }
func (emptyMarker) Len() int                             { return 0 }
func (emptyMarker) String() string                       { return "[]" }

func (emptyMarker) Plus(other Marker) Marker {
	if other == nil {
		return EmptyMarker
	}
	return other
}

func (emptyMarker) Fold(initial any, _ func(any, MarkerElement) any) any {
	return initial
}

func (emptyMarker) Equal(other Marker) bool {
	return other == nil || other.Len() == 0
}

// combinedMarker is a persistent list: element plus everything in left.
// left never holds element's key.
type combinedMarker struct {
	left    Marker
	element MarkerElement
}

func (m *combinedMarker) Get(key *MarkerKey) (MarkerElement, bool) {
	cur := Marker(m)
	for {
		c, ok := cur.(*combinedMarker)
		if !ok {
			return cur.Get(key)
		}
		if c.element.MarkerKey() == key {
			return c.element, true
		}
		cur = c.left
	}
}

func (m *combinedMarker) Plus(other Marker) Marker {
	if other == nil || other.Len() == 0 {
		return m
	}
	return other.Fold(Marker(m), func(acc any, e MarkerElement) any {
		return plusElement(acc.(Marker), e)
	}).(Marker)
}

func (m *combinedMarker) MinusKey(key *MarkerKey) Marker {
	if m.element.MarkerKey() == key {
		return m.left
	}
	left := m.left.MinusKey(key)
	if left == m.left {
		return m
	}
	if left.Len() == 0 {
		return &combinedMarker{left: EmptyMarker, element: m.element}
	}
	return &combinedMarker{left: left, element: m.element}
}

func (m *combinedMarker) Fold(initial any, op func(any, MarkerElement) any) any {
	return op(m.left.Fold(initial, op), m.element)
}

func (m *combinedMarker) Len() int {
	n := 0
	cur := Marker(m)
	for {
		c, ok := cur.(*combinedMarker)
		if !ok {
			return n + cur.Len()
		}
		n++
		cur = c.left
	}
}

func (m *combinedMarker) Equal(other Marker) bool {
	if other == nil || m.Len() != other.Len() {
		return false
	}
	return m.Fold(true, func(acc any, e MarkerElement) any {
		if !acc.(bool) {
			return false
		}
		o, ok := other.Get(e.MarkerKey())
		return ok && elementsEqual(e, o)
	}).(bool)
}

func (m *combinedMarker) String() string {
	var b strings.Builder
	b.WriteByte('[')
	m.Fold(0, func(acc any, e MarkerElement) any {
		if acc.(int) > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.MarkerKey().String())
		return acc.(int) + 1
	})
	b.WriteByte(']')
	return b.String()
}

func plusElement(m Marker, e MarkerElement) Marker {
	rest := m.MinusKey(e.MarkerKey())
	if rest.Len() == 0 {
		rest = EmptyMarker
	}
	return &combinedMarker{left: rest, element: e}
}

func elementsEqual(a, b MarkerElement) bool {
	if eq, ok := a.(interface{ Equal(MarkerElement) bool }); ok {
		return eq.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}
