package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the closed failure taxonomy every error in the pipeline maps into.
type Kind string

const (
	KindNetwork          Kind = "NETWORK"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindAuth             Kind = "AUTH"
	KindDataMalformed    Kind = "DATA_MALFORMED"
	KindCalculation      Kind = "CALCULATION"
	KindDeadlineExceeded Kind = "DEADLINE_EXCEEDED"
)

// Action is the recommended caller response for a failure kind.
type Action string

const (
	ActionRetryBackoff  Action = "RETRY_BACKOFF"
	ActionAcceptPartial Action = "ACCEPT_PARTIAL"
	ActionFatal         Action = "FATAL"
)

// Action returns the recommended caller action for this kind.
func (k Kind) Action() Action {
	switch k {
	case KindNetwork, KindRateLimited:
		return ActionRetryBackoff
	case KindDataMalformed, KindDeadlineExceeded:
		return ActionAcceptPartial
	default:
		return ActionFatal
	}
}

// Error is the unified error type surfaced by the pipeline. It never wraps a
// raw upstream error without classifying it first.
type Error struct {
	Kind    Kind
	Op      string
	AssetID string

	// RetryAfter carries a provider-specified backoff for RATE_LIMITED
	// failures, zero when the provider gave none.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.AssetID != "" {
		msg += " asset=" + e.AssetID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for an operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithAsset tags the error with the asset it concerns.
func (e *Error) WithAsset(assetID string) *Error {
	e.AssetID = assetID
	return e
}

// WithRetryAfter attaches the provider-specified backoff.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// RetryAfter extracts the provider-specified backoff from a classified error,
// zero when none was given.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// KindOf extracts the taxonomy kind from any error. Unclassified errors from
// the network layer default to NETWORK so they stay retryable; everything
// else unclassified is treated as malformed data.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindDataMalformed
}

// Absorbable reports whether the failure must be absorbed at the coherency
// boundary into a PARTIAL bundle instead of propagating to the caller.
func Absorbable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited, KindDataMalformed, KindDeadlineExceeded:
		return true
	}
	return false
}

// Fatal reports whether the failure must propagate to the caller as an
// explicit error, never as a zero score or empty list.
func Fatal(err error) bool {
	k := KindOf(err)
	return k == KindAuth || k == KindCalculation
}
