// Package pipe holds the communication-layer error vocabulary shared by every
// transport, plus the length-delimited frame connection reserved for the
// out-of-process transport.
package pipe

import (
	"errors"
	"fmt"
)

// Kind classifies a communication failure.
type Kind int

const (
	KindNotConnected Kind = iota + 1
	KindTimeout
	KindWriteCount
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindTimeout:
		return "timeout"
	case KindWriteCount:
		return "write_count"
	case KindAPI:
		return "api"
	default:
		return "unknown"
	}
}

// Error is a communication failure: the transport itself is broken or did not
// answer in time. It never describes a rejected request.
type Error struct {
	Kind Kind
	// Expected and Actual are set for KindWriteCount.
	Expected int
	Actual   uint32
	// Err is the underlying OS or library cause for KindAPI.
	Err error
}

var (
	ErrNotConnected = &Error{Kind: KindNotConnected}
	ErrTimeout      = &Error{Kind: KindTimeout}
)

// WriteCount reports a frame write that came up short.
func WriteCount(expected int, actual uint32) *Error {
	return &Error{Kind: KindWriteCount, Expected: expected, Actual: actual}
}

// API wraps an underlying cause. A nil cause yields nil.
func API(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindAPI, Err: err}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotConnected:
		return "pipe is not connected"
	case KindTimeout:
		if e.Err != nil {
			return "operation timed out: " + e.Err.Error()
		}
		return "operation timed out"
	case KindWriteCount:
		return fmt.Sprintf("should have written %d bytes, wrote %d", e.Expected, e.Actual)
	case KindAPI:
		if e.Err != nil {
			return "api error: " + e.Err.Error()
		}
		return "api error"
	default:
		return "pipe error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrTimeout) holds for
// any timeout regardless of its cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == ErrNotConnected || t == ErrTimeout {
		return e.Kind == t.Kind
	}
	return e == t
}

// Timeout returns a timeout error carrying cause, typically a context error.
func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Err: cause}
}

// IsKind reports whether err is a communication failure of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}
