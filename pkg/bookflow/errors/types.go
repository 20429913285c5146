package errors

import "fmt"

// ExternalServiceError represents a failure returned by an external
// collaborator (availability, calendar, payment, notification).
type ExternalServiceError struct {
	Service    string
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s.%s returned %d: %s", e.Service, e.Operation, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s.%s failed: %v", e.Service, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s.%s failed: %s", e.Service, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// ValidationError indicates malformed command input.
// It is surfaced immediately: no retry, no event is produced.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}
