package domain

import "errors"

var (
	// ErrNotFound is returned when a challenge or submission does not exist.
	ErrNotFound = errors.New("challenge not found")
	// ErrUnauthorized is returned when no caller identity is present.
	ErrUnauthorized = errors.New("authentication required")
	// ErrForbidden is returned when a non-operator attempts a lifecycle operation.
	ErrForbidden = errors.New("only the challenge operator may do this")
	// ErrValidation wraps malformed definitions and submissions.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned for a lifecycle operation not allowed from the current state.
	ErrInvalidTransition = errors.New("transition not allowed from current state")
	// ErrChallengeClosed is returned when submitting to an ended challenge.
	ErrChallengeClosed = errors.New("challenge has ended")
	// ErrPayloadLocked is returned when changing test cases or questions after submissions exist.
	ErrPayloadLocked = errors.New("challenge payload is locked by existing submissions")
	// ErrPayloadChanged is returned when test cases or questions changed between reading and writing them.
	ErrPayloadChanged = errors.New("challenge payload changed, reload and retry")
	// ErrSubmissionInFlight is returned when a participant already has a submission being graded.
	ErrSubmissionInFlight = errors.New("a submission is already being graded")
	// ErrExecution marks a judge invocation failure. It never leaves the grader.
	ErrExecution = errors.New("code execution failed")
	// ErrPersistence marks a store failure.
	ErrPersistence = errors.New("persistence failure")
)
