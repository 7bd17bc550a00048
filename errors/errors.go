// Package errors provides structured error types for the sync pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling decisions.
type Kind string

const (
	// KindTransient marks failures that are expected to succeed on retry
	// (network errors, 5xx-equivalents).
	KindTransient Kind = "TRANSIENT"

	// KindInvalid marks caller mistakes: cancelling an in-progress
	// operation, retrying an unknown id, malformed payloads.
	KindInvalid Kind = "INVALID"

	// KindNotFound marks lookups that matched nothing.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict marks conflict-resolution failures. Detected-and-resolved
	// conflicts are not errors and never carry this kind.
	KindConflict Kind = "CONFLICT"

	// KindOffline marks the absence of connectivity. Callers translate it
	// into the offline engine state rather than treating it as a failure.
	KindOffline Kind = "OFFLINE"

	// KindUninitialized marks use of a component before Initialize.
	KindUninitialized Kind = "UNINITIALIZED"

	// KindAlreadyRunning marks re-entrant calls rejected by an
	// in-progress guard.
	KindAlreadyRunning Kind = "ALREADY_RUNNING"

	// KindStorage marks persistent-store failures.
	KindStorage Kind = "STORAGE"
)

// Operation identifies the sync operation during which an error occurred.
type Operation string

const (
	OpEnqueue    Operation = "enqueue"
	OpProcess    Operation = "process"
	OpRetry      Operation = "retry"
	OpCancel     Operation = "cancel"
	OpSync       Operation = "sync"
	OpPush       Operation = "push"
	OpPull       Operation = "pull"
	OpStore      Operation = "store"
	OpLoad       Operation = "load"
	OpResolve    Operation = "resolve"
	OpInitialize Operation = "initialize"
	OpClose      Operation = "close"
)

// SyncError is the error type produced by every component in this module.
type SyncError struct {
	// Op is the operation during which the error occurred.
	Op Operation

	// Component generated the error (e.g., "queue", "engine", "storage/sqlite").
	Component string

	// Kind classifies the error.
	Kind Kind

	// Retryable reports whether repeating the operation may succeed.
	Retryable bool

	// Err is the underlying cause.
	Err error

	// Metadata carries additional context for logging.
	Metadata map[string]any
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s operation failed", e.Op)
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	}
	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// New creates a SyncError with just an operation and cause.
func New(op Operation, err error) *SyncError {
	return &SyncError{Op: op, Err: err}
}

// NewWithComponent creates a SyncError carrying component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Err: err}
}

// NewRetryable creates a transient, retryable SyncError.
func NewRetryable(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindTransient, Retryable: true, Err: err}
}

// NewInvalid creates a non-retryable caller-error SyncError.
func NewInvalid(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindInvalid, Err: err}
}

// NewNotFound creates a SyncError for a lookup that matched nothing.
func NewNotFound(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindNotFound, Err: err}
}

// NewStorage creates a retryable storage-failure SyncError.
func NewStorage(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindStorage, Retryable: true, Err: err}
}

// NewOffline creates a SyncError reporting the absence of connectivity.
func NewOffline(op Operation, component string) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindOffline, Err: errors.New("no network connectivity")}
}

// NewUninitialized reports use of a component before Initialize.
func NewUninitialized(op Operation, component string) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindUninitialized,
		Err: fmt.Errorf("%s used before Initialize", component)}
}

// NewAlreadyRunning reports a rejected re-entrant call.
func NewAlreadyRunning(op Operation, component string, detail string) *SyncError {
	return &SyncError{Op: op, Component: component, Kind: KindAlreadyRunning, Err: errors.New(detail)}
}

// WithMetadata attaches metadata and returns the error for chaining.
func (e *SyncError) WithMetadata(key string, value any) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable reports whether err is a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// KindOf returns the Kind of err, or "" if err is not a SyncError.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return ""
}

// IsKind reports whether err is a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
