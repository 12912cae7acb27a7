package source

import (
	"context"
	"errors"
)

// Sentinel errors shared by byte sources.
var (
	// ErrUnavailable is returned when bytes cannot be retrieved: transport
	// failure, non-success status, oversized body or failed verification.
	ErrUnavailable = errors.New("source: unavailable")

	// ErrInvalid is returned when a descriptor is malformed.
	ErrInvalid = errors.New("source: invalid descriptor")

	// ErrEmpty is returned when a fetch is requested for the empty source.
	ErrEmpty = errors.New("source: empty descriptor")
)

// ProgressFunc receives transfer progress. total is 0 when the size is
// unknown. Implementations must be safe for calls from any goroutine.
type ProgressFunc func(done, total uint64)

// Report calls fn if it is non-nil.
func (fn ProgressFunc) Report(done, total uint64) {
	if fn != nil {
		fn(done, total)
	}
}

// ByteSource retrieves the raw bytes of a remote image.
//
// Fetch blocks until the transfer finishes or ctx ends. Progress fires zero
// or more times, always before Fetch returns. Failures wrap ErrUnavailable.
type ByteSource interface {
	Fetch(ctx context.Context, d Descriptor, progress ProgressFunc) ([]byte, error)
}

// ByteSourceFunc adapts a function to ByteSource.
type ByteSourceFunc func(ctx context.Context, d Descriptor, progress ProgressFunc) ([]byte, error)

// Fetch calls fn.
func (fn ByteSourceFunc) Fetch(ctx context.Context, d Descriptor, progress ProgressFunc) ([]byte, error) {
	return fn(ctx, d, progress)
}
