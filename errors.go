// errors.go: structured error handling for vela operations
//
// This file provides structured error types using the go-errors library,
// enabling rich error context, categorization, and standardized error codes
// for the query core.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package vela

import (
	"context"
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for Vela operations
const (
	// Configuration and identity errors
	ErrCodeInvalidConfig errors.ErrorCode = "VELA_INVALID_CONFIG"
	ErrCodeInvalidTag    errors.ErrorCode = "VELA_INVALID_TAG"
	ErrCodeInvalidKey    errors.ErrorCode = "VELA_INVALID_KEY"

	// Fetch errors
	ErrCodeQueryFailed    errors.ErrorCode = "VELA_QUERY_FAILED"
	ErrCodeFetchCancelled errors.ErrorCode = "VELA_FETCH_CANCELLED"

	// Lifecycle errors
	ErrCodeSchedulerClosed errors.ErrorCode = "VELA_SCHEDULER_CLOSED"
	ErrCodeRelayClosed     errors.ErrorCode = "VELA_RELAY_CLOSED"
	ErrCodeClientClosed    errors.ErrorCode = "VELA_CLIENT_CLOSED"

	// Internal errors
	ErrCodeInternalError  errors.ErrorCode = "VELA_INTERNAL_ERROR"
	ErrCodePanicRecovered errors.ErrorCode = "VELA_PANIC_RECOVERED"
)

// Common error messages
const (
	msgInvalidConfig   = "invalid configuration"
	msgInvalidTag      = "invalid surrogate key"
	msgInvalidKey      = "invalid query key"
	msgQueryFailed     = "query fetch failed"
	msgFetchCancelled  = "fetch was cancelled"
	msgSchedulerClosed = "batch scheduler is closed"
	msgRelayClosed     = "error relay is closed"
	msgClientClosed    = "query client is closed"
	msgInternalError   = "internal error"
	msgPanicRecovered  = "panic recovered"
)

// NewErrInvalidConfig creates an error for a rejected configuration field
func NewErrInvalidConfig(field string, value interface{}) error {
	return errors.NewWithContext(ErrCodeInvalidConfig, msgInvalidConfig, map[string]interface{}{
		"field": field,
		"value": value,
	})
}

// NewErrInvalidTag creates an error for a tag that cannot be part of a UniqueID
func NewErrInvalidTag(namespace string, index int, tag interface{}) error {
	return errors.NewWithContext(ErrCodeInvalidTag, msgInvalidTag, map[string]interface{}{
		"namespace": namespace,
		"index":     index,
		"type":      fmt.Sprintf("%T", tag),
	})
}

// NewErrInvalidKey creates an error for a query key without fetch function
func NewErrInvalidKey(id UniqueID, reason string) error {
	return errors.NewWithContext(ErrCodeInvalidKey, msgInvalidKey, map[string]interface{}{
		"id":     id.String(),
		"reason": reason,
	})
}

// NewErrQueryFailed wraps the final error of a fetch
func NewErrQueryFailed(id UniqueID, cause error) error {
	return errors.Wrap(cause, ErrCodeQueryFailed, msgQueryFailed).
		WithContext("id", id.String()).
		AsRetryable()
}

// NewErrFetchCancelled creates an error when a fetch is abandoned
func NewErrFetchCancelled(id UniqueID) error {
	return errors.NewWithField(ErrCodeFetchCancelled, msgFetchCancelled, "id", id.String())
}

// NewErrSchedulerClosed creates an error for a Post after Close
func NewErrSchedulerClosed() error {
	return errors.New(ErrCodeSchedulerClosed, msgSchedulerClosed)
}

// NewErrRelayClosed creates an error for a Send after the relay scope ended
func NewErrRelayClosed() error {
	return errors.New(ErrCodeRelayClosed, msgRelayClosed)
}

// NewErrClientClosed creates an error for operations on a closed client
func NewErrClientClosed(operation string) error {
	return errors.NewWithField(ErrCodeClientClosed, msgClientClosed, "operation", operation)
}

// NewErrInternal creates a generic internal error
func NewErrInternal(operation string, cause error) error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeInternalError, msgInternalError).
			WithContext("operation", operation).
			WithSeverity("warning")
	}
	return errors.NewWithField(ErrCodeInternalError, msgInternalError, "operation", operation).
		WithSeverity("warning")
}

// NewErrPanicRecovered creates an error when a panic is recovered
func NewErrPanicRecovered(operation string, panicValue interface{}) error {
	return errors.NewWithContext(ErrCodePanicRecovered, msgPanicRecovered, map[string]interface{}{
		"operation":   operation,
		"panic_value": fmt.Sprintf("%v", panicValue),
	}).WithSeverity("critical")
}

// IsCancellation reports whether err comes from context cancellation or
// deadline expiry. Cancellations are never retried and never relayed.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, context.Canceled) ||
		goerrors.Is(err, context.DeadlineExceeded) ||
		errors.HasCode(err, ErrCodeFetchCancelled)
}

// IsQueryFailed checks if error is a wrapped fetch failure
func IsQueryFailed(err error) bool {
	return errors.HasCode(err, ErrCodeQueryFailed)
}

// IsInvalidTag checks if error is an invalid tag error
func IsInvalidTag(err error) bool {
	return errors.HasCode(err, ErrCodeInvalidTag)
}

// IsClosed checks if error reports a closed scheduler, relay or client
func IsClosed(err error) bool {
	return errors.HasCode(err, ErrCodeSchedulerClosed) ||
		errors.HasCode(err, ErrCodeRelayClosed) ||
		errors.HasCode(err, ErrCodeClientClosed)
}

// IsRetryable checks if the error can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}

// GetErrorContext extracts context from an error
func GetErrorContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	var velaErr *errors.Error
	if goerrors.As(err, &velaErr) {
		return velaErr.Context
	}
	return nil
}
