package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error wraps a database failure with its operation and a transience
// classification. Transient errors (lock contention, interrupted
// statements) are safe to retry; the kernel retries the whole round.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Transient {
		return fmt.Sprintf("store: %s (transient): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is a retryable store failure.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Transient
}

// classify wraps a raw database error as a store Error, marking SQLite
// busy/locked/interrupt conditions transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	// Context cancellation is the caller's signal, not a store fault.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	transient := false
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrInterrupt:
			transient = true
		}
	}

	return &Error{Op: op, Transient: transient, Err: err}
}
