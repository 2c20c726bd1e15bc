package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a state transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRunNotFound is returned when no checkpoint exists for a run.
	ErrRunNotFound = fmt.Errorf("run %w", ErrNotFound)

	// ErrApprovalNotFound is returned for an unknown approval request ID.
	ErrApprovalNotFound = fmt.Errorf("approval request %w", ErrNotFound)

	// ErrApprovalNotPending is returned when deciding a request that was
	// already decided or expired.
	ErrApprovalNotPending = fmt.Errorf("%w: approval request is not pending", ErrInvalidState)

	// ErrInvalidRole is returned when an approval is requested without an
	// approver role.
	ErrInvalidRole = fmt.Errorf("%w: approver role is required", ErrInvalidArgument)

	// ErrNotesRequired is returned when a rejection carries no notes.
	ErrNotesRequired = fmt.Errorf("%w: rejection notes are required", ErrInvalidArgument)

	// ErrPendingApproval is returned when a second gate is opened while one
	// is still pending on the same run.
	ErrPendingApproval = fmt.Errorf("%w: run already has a pending approval", ErrInvalidState)

	// ErrUnknownRoute is returned when a router yields a label with no
	// entry in its routing table.
	ErrUnknownRoute = errors.New("unknown route label")

	// ErrRevisionsExhausted is returned when a human rejection arrives after
	// the run has used all of its revisions.
	ErrRevisionsExhausted = errors.New("revision limit reached")

	// ErrResumeFailed is returned when a decision was recorded but the run
	// waiting on it could not be resumed. Resume the run again to retry.
	ErrResumeFailed = errors.New("approval recorded but run resume failed")

	// ErrStepLimit is returned when a run exceeds its phase step budget.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrTransportUnavailable is returned when neither checkpoint transport
	// answered its probe. Operations still go through the fallback
	// transport; its error is joined with this one.
	ErrTransportUnavailable = errors.New("checkpoint transport unavailable")
)

// PhaseExecutionError records a failure raised by a phase function. It is
// terminal for the run and never retried by the engine.
type PhaseExecutionError struct {
	Phase string
	Step  int
	Err   error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("phase %q (step %d) failed: %v", e.Phase, e.Step, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error {
	return e.Err
}
