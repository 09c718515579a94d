package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrValidation marks input that was rejected before any work was attempted.
	ErrValidation = eris.New("validation failed")

	// ErrBackendUnavailable is returned when the orchestrator is required
	// (strict mode) but failed its health probe.
	ErrBackendUnavailable = eris.New("backend unavailable")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CallPlacementError means the call-automation vendor rejected the call
// request itself (bad payload, auth, schema). The call was never placed.
type CallPlacementError struct {
	Provider   string
	Phone      string
	StatusCode int
	Err        error
}

func (e *CallPlacementError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("call placement rejected for %s (%s): status %d: %v", e.Provider, e.Phone, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("call placement failed for %s (%s): %v", e.Provider, e.Phone, e.Err)
}

func (e *CallPlacementError) Unwrap() error {
	return e.Err
}
