package balancer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"convoproxy/pkg/models"
)

var (
	// ErrNoEligibleEndpoint is returned by selection when no endpoint
	// qualifies under the current policy.
	ErrNoEligibleEndpoint = errors.New("no eligible endpoint")

	// ErrNoStrategy is returned when an unknown strategy name is
	// configured.
	ErrNoStrategy = errors.New("unknown selection strategy")
)

// ErrorKind classifies a dispatch failure.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindConnectionRefused
	KindUpstreamError
	KindPoolExhausted
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection_refused"
	case KindUpstreamError:
		return "upstream_error"
	case KindPoolExhausted:
		return "pool_exhausted"
	default:
		return "unknown"
	}
}

// Transient reports whether the kind justifies retrying against a
// different endpoint.
func (k ErrorKind) Transient() bool {
	return k == KindTimeout || k == KindConnectionRefused
}

// OutcomeClass maps the kind onto the metrics taxonomy.
func (k ErrorKind) OutcomeClass() models.OutcomeClass {
	switch k {
	case KindTimeout:
		return models.OutcomeTimeout
	case KindConnectionRefused:
		return models.OutcomeConnectionRefused
	default:
		return models.OutcomeUpstreamError
	}
}

// DispatchError is a classified dispatch failure.
type DispatchError struct {
	Kind       ErrorKind
	EndpointID string // last endpoint attempted, empty if none
	Status     int    // upstream status for KindUpstreamError
	Err        error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := "dispatch failed: " + e.Kind.String()
	if e.EndpointID != "" {
		msg += " (endpoint " + e.EndpointID + ")"
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: upstream status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// classify maps a transport error onto the failure taxonomy. Timeouts
// and connection errors are transient; anything else that prevented a
// response is treated as a connection failure.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	return KindConnectionRefused
}
