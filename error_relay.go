// error_relay.go: single-slot anycast mailbox for query errors
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package vela

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ErrorRecord is an error raised by a query or mutation, with the key it
// belongs to and the marker of the caller that triggered it.
type ErrorRecord struct {
	Err    error
	KeyID  UniqueID
	Marker Marker
}

// RelayOptions configures an ErrorRelay.
type RelayOptions struct {
	// Buffer is the capacity of the intake queue. When it is full the
	// oldest queued record is dropped. Default: DefaultRelayBuffer.
	Buffer int

	// ShouldSuppressError drops matching errors before they are queued.
	// Cancellation errors are always dropped.
	ShouldSuppressError func(err error) bool

	// AreErrorsEqual decides whether a new record duplicates the one still
	// waiting to be received. Default: same KeyID and same error text.
	AreErrorsEqual func(a, b ErrorRecord) bool

	// Logger reports dropped records. Default: NoOpLogger.
	Logger Logger

	// MetricsCollector counts relayed and coalesced records.
	MetricsCollector MetricsCollector
}

// DefaultAreErrorsEqual reports whether a and b carry the same key and the
// same error message.
func DefaultAreErrorsEqual(a, b ErrorRecord) bool {
	if a.KeyID != b.KeyID {
		return false
	}
	if a.Err == nil || b.Err == nil {
		return a.Err == b.Err
	}
	return a.Err.Error() == b.Err.Error()
}

// ErrorRelay delivers each error to exactly one receiver.
//
// Records go through a bounded queue into a single slot. A record equal to
// the one already waiting in the slot is coalesced; any other record
// replaces it. Each replacement publishes a fresh token, and a receiver
// only takes the slot if the token it claimed is still current, so no
// record is ever delivered twice. Once a record has been received, an
// equal record is relayed again.
type ErrorRelay struct {
	opts   RelayOptions
	in     chan ErrorRecord
	tokens chan string // holds at most the latest token
	scope  context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	slot      *ErrorRecord
	slotToken string
}

// NewErrorRelay starts a relay bound to ctx.
func NewErrorRelay(ctx context.Context, opts RelayOptions) *ErrorRelay {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultRelayBuffer
	}
	if opts.AreErrorsEqual == nil {
		opts.AreErrorsEqual = DefaultAreErrorsEqual
	}
	if opts.Logger == nil {
		opts.Logger = NoOpLogger{}
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = NoOpMetricsCollector{}
	}
	scope, cancel := context.WithCancel(ctx)
	r := &ErrorRelay{
		opts:   opts,
		in:     make(chan ErrorRecord, opts.Buffer),
		tokens: make(chan string, 1),
		scope:  scope,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Send queues rec. It never blocks: a full queue loses its oldest record.
// Returns an error once the relay has been closed.
func (r *ErrorRelay) Send(rec ErrorRecord) error {
	if r.scope.Err() != nil {
		return NewErrRelayClosed()
	}
	if rec.Err == nil || IsCancellation(rec.Err) {
		return nil
	}
	if r.opts.ShouldSuppressError != nil && r.opts.ShouldSuppressError(rec.Err) {
		return nil
	}
	if rec.Marker == nil {
		rec.Marker = EmptyMarker
	}
	for {
		select {
		case r.in <- rec:
			return nil
		default:
		}
		select {
		case old := <-r.in:
			r.opts.Logger.Warn("error relay overflow, dropping oldest record",
				"key", old.KeyID.String(), "error", old.Err)
		default:
		}
	}
}

// Receive returns a channel of records for one consumer. The channel is
// closed when ctx or the relay ends. Any number of consumers may receive
// concurrently; each record reaches only one of them.
func (r *ErrorRelay) Receive(ctx context.Context) <-chan ErrorRecord {
	out := make(chan ErrorRecord)
	go func() {
		defer close(out)
		for {
			select {
			case token := <-r.tokens:
				rec, ok := r.claim(token)
				if !ok {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					r.restore(rec)
					return
				case <-r.scope.Done():
					return
				}
			case <-ctx.Done():
				return
			case <-r.scope.Done():
				return
			}
		}
	}()
	return out
}

// Pending returns the record waiting in the slot, if any, without
// consuming it.
func (r *ErrorRelay) Pending() (ErrorRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot == nil {
		return ErrorRecord{}, false
	}
	return *r.slot, true
}

// Close stops the relay and waits for its worker. Undelivered records are
// discarded.
func (r *ErrorRelay) Close() {
	r.cancel()
	<-r.done
}

func (r *ErrorRelay) loop() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.in:
			r.offer(rec)
		case <-r.scope.Done():
			return
		}
	}
}

func (r *ErrorRelay) offer(rec ErrorRecord) {
	r.mu.Lock()
	if r.slot != nil && r.opts.AreErrorsEqual(*r.slot, rec) {
		r.mu.Unlock()
		r.opts.MetricsCollector.RecordErrorCoalesced()
		r.opts.Logger.Debug("error coalesced", "key", rec.KeyID.String())
		return
	}
	token := uuid.NewString()
	r.slot = &rec
	r.slotToken = token
	r.mu.Unlock()

	r.opts.MetricsCollector.RecordErrorRelayed()
	r.publish(token)
}

// publish replaces any unclaimed token with token.
func (r *ErrorRelay) publish(token string) {
	for {
		select {
		case r.tokens <- token:
			return
		default:
		}
		select {
		case <-r.tokens:
		default:
		}
	}
}

// claim consumes the slot if token is still current.
func (r *ErrorRelay) claim(token string) (ErrorRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot == nil || r.slotToken != token {
		return ErrorRecord{}, false
	}
	rec := *r.slot
	r.slot = nil
	r.slotToken = ""
	return rec, true
}

// restore puts back a claimed record whose receiver went away, unless a
// newer record took the slot meanwhile.
func (r *ErrorRelay) restore(rec ErrorRecord) {
	r.mu.Lock()
	if r.slot != nil {
		r.mu.Unlock()
		return
	}
	token := uuid.NewString()
	r.slot = &rec
	r.slotToken = token
	r.mu.Unlock()
	r.publish(token)
}
