/*
errors.go - Error types for the reimbursement engine

ERROR CATEGORIES:
  1. Not found     - Unknown case identifier
  2. State errors  - Operation not allowed in the case's current status
  3. Validation    - Malformed input (unknown status, negative amount, ...)

USAGE:
  Callers match with errors.Is against the sentinels, or errors.As against
  the structured types when they need the details:

    var stateErr *incapacity.InvalidStateError
    if errors.As(err, &stateErr) {
        // stateErr.Status tells which status blocked the payment
    }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package incapacity

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCaseNotFound is returned when a case identifier does not exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrInvalidState is returned when a payment is attempted on a case whose
	// status does not accept payments (REPORTED or REJECTED).
	ErrInvalidState = errors.New("operation not allowed in current case status")

	// ErrInvalidStatus is returned when a status value is not one of the
	// known workflow statuses.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned in strict mode when the requested
	// transition is not in the allowed-transition table.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies the missing case.
type NotFoundError struct {
	CaseID CaseID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("case %s not found", e.CaseID)
}

func (e *NotFoundError) Unwrap() error { return ErrCaseNotFound }

// InvalidStateError reports an operation blocked by the case's status.
type InvalidStateError struct {
	CaseID    CaseID
	Status    Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: case %s is %s", e.Operation, e.CaseID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InvalidStatusError reports a status value outside the enumerated set.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q", e.Value)
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// TransitionError reports a transition rejected by the allowed-transition table.
type TransitionError struct {
	CaseID  CaseID
	From    Status
	To      Status
	Allowed []Status // statuses reachable from From
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("case %s: transition %s -> %s not allowed", e.CaseID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError reports a malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsConflict returns true if the request is well-formed but the case's
// current status does not allow it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing case.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCaseNotFound)
}
