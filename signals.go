// signals.go: platform signals consumed by the query client
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

// NetworkEvent reports a change in network reachability.
type NetworkEvent int

const (
	NetworkAvailable NetworkEvent = iota
	NetworkLost
)

func (e NetworkEvent) String() string {
	switch e {
	case NetworkAvailable:
		return "available"
	case NetworkLost:
		return "lost"
	default:
		return "unknown"
	}
}

// MemoryEvent reports memory pressure.
type MemoryEvent int

const (
	MemoryLow MemoryEvent = iota
	MemoryCritical
)

func (e MemoryEvent) String() string {
	switch e {
	case MemoryLow:
		return "low"
	case MemoryCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// VisibilityEvent reports whether the application is in the foreground.
type VisibilityEvent int

const (
	Visible VisibilityEvent = iota
	Hidden
)

func (e VisibilityEvent) String() string {
	switch e {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	default:
		return "unknown"
	}
}

type (
	NetworkNotifier    = Notifier[NetworkEvent]
	MemoryNotifier     = Notifier[MemoryEvent]
	VisibilityNotifier = Notifier[VisibilityEvent]
)
