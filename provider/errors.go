/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class partitions provider failures by how the loop must react.
type Class int

const (
	// ClassOther is an unclassified failure, treated as non-retryable.
	ClassOther Class = iota
	// ClassAuth is an authentication or authorization failure. Acting on
	// unknown state risks incorrect remediation, so these abort the loop.
	ClassAuth
	// ClassRateLimit is a rate or abuse limit. Retried with backoff.
	ClassRateLimit
	// ClassNotFound means the referenced resource no longer exists. The
	// plan was built from stale state; the loop re-observes.
	ClassNotFound
	// ClassUnavailable is a transient transport or server failure.
	// Retried with backoff.
	ClassUnavailable
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassRateLimit:
		return "rate-limit"
	case ClassNotFound:
		return "not-found"
	case ClassUnavailable:
		return "unavailable"
	}
	return "other"
}

// Error tags an underlying provider failure with its class so callers can
// branch without knowing the concrete provider's error types.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf wraps err for operation op with the given class.
func Errorf(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// Classify extracts the class from an error chain. Context and plain
// network timeouts classify as unavailable even without a provider tag.
func Classify(err error) Class {
	if err == nil {
		return ClassOther
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassUnavailable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassUnavailable
	}
	return ClassOther
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return Classify(err) == ClassAuth }

// IsNotFound reports whether err references a resource that no longer
// exists.
func IsNotFound(err error) bool { return Classify(err) == ClassNotFound }

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	switch Classify(err) {
	case ClassRateLimit, ClassUnavailable:
		return true
	}
	return false
}
