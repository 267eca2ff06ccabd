package models

import (
	"github.com/pkg/errors"
)

// Failure kinds of the load pipeline. Callers compare against errors.Cause(err).
var (
	ErrNotFound           = errors.New("not found")
	ErrIO                 = errors.New("i/o error")
	ErrAllocation         = errors.New("allocation failure")
	ErrMalformedImage     = errors.New("malformed image")
	ErrCopyOutOfBounds    = errors.New("copy out of bounds")
	ErrAddressUnavailable = errors.New("address unavailable")
	ErrHandoffRejected    = errors.New("handoff rejected")
)

// Platform signals.
var (
	// ErrStaleMapKey is returned by ExitBootServices when the memory map changed since
	// the key was queried.
	ErrStaleMapKey = errors.New("stale memory map key")
	// ErrServicesRetired is returned by any boot service called after ExitBootServices.
	ErrServicesRetired = errors.New("boot services retired")
)

// ErrPhase is returned when a pipeline step receives state from the wrong phase.
var ErrPhase = errors.New("wrong boot phase")

// Kind returns the root cause of err, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	return errors.Cause(err)
}
