// Package apierr holds the sentinel errors shared across the hub's
// components so handlers can classify a failure with errors.Is instead of
// string-matching.
package apierr

import "errors"

var (
	// ErrJobNotFound means the referenced job id has no record in the Store.
	ErrJobNotFound = errors.New("job not found")
	// ErrWorkerNotFound means the referenced worker id has no record in the Store.
	ErrWorkerNotFound = errors.New("worker not registered")
	// ErrClaimLost means a claim lost the compare-and-set race against another worker.
	ErrClaimLost = errors.New("claim lost")
	// ErrJobNotPending means an operation required status=pending but the job was not.
	ErrJobNotPending = errors.New("job not pending")
	// ErrJobTerminal means the job is already completed or failed.
	ErrJobTerminal = errors.New("job already terminal")
	// ErrInvalidFrame means an inbound WebSocket frame failed validation.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Error wraps a sentinel with request-specific detail while remaining
// unwrappable via errors.Is/errors.As.
type Error struct {
	Sentinel error
	Detail   string
}

func New(sentinel error, detail string) *Error {
	return &Error{Sentinel: sentinel, Detail: detail}
}

func (e *Error) Error() string {
	if e == nil || e.Sentinel == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Sentinel.Error()
	}
	return e.Sentinel.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Sentinel
}
