// filter.go: bulk selection over active and inactive cache partitions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import "iter"

// FilterType restricts a Filter to one partition of the cache.
type FilterType int

const (
	// FilterAny visits active entries, then inactive ones.
	FilterAny FilterType = iota
	// FilterActive visits entries that have at least one observer or a
	// running keep-alive.
	FilterActive
	// FilterInactive visits entries parked in the time-based cache.
	FilterInactive
)

func (t FilterType) String() string {
	switch t {
	case FilterAny:
		return "any"
	case FilterActive:
		return "active"
	case FilterInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Filter selects entries for bulk operations.
type Filter[M any] struct {
	// Keys keeps ids carrying at least one of these tags. Empty keeps all.
	Keys []SurrogateKey

	// Predicate keeps entries whose model it accepts. Nil keeps all.
	Predicate func(model M) bool

	// Type selects the partitions to visit.
	Type FilterType
}

// Matches reports whether the entry identified by id with model passes the
// Keys and Predicate parts of f.
func (f Filter[M]) Matches(id UniqueID, model M) bool {
	if len(f.Keys) > 0 && !id.HasAnyTag(f.Keys...) {
		return false
	}
	return f.Predicate == nil || f.Predicate(model)
}

// FilterResolver walks the two partitions of a cache.
type FilterResolver[M any] struct {
	Active   iter.Seq2[UniqueID, M]
	Inactive iter.Seq2[UniqueID, M]
}

// ForEach calls fn for every entry selected by filter, active partition
// first. A nil partition is treated as empty.
func (r FilterResolver[M]) ForEach(filter Filter[M], fn func(id UniqueID, model M)) {
	visit := func(seq iter.Seq2[UniqueID, M]) {
		if seq == nil {
			return
		}
		for id, model := range seq {
			if filter.Matches(id, model) {
				fn(id, model)
			}
		}
	}
	switch filter.Type {
	case FilterActive:
		visit(r.Active)
	case FilterInactive:
		visit(r.Inactive)
	default:
		visit(r.Active)
		visit(r.Inactive)
	}
}
