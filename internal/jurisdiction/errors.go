package jurisdiction

import "fmt"

// UnknownStateError is returned when a workplace state matches no entry of the state table.
type UnknownStateError struct {
	Input string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown state: %q", e.Input)
}

// NoAuthorityError is returned when the reference data has no authority for a
// (competence, state) pair. It signals a reference-data gap.
type NoAuthorityError struct {
	Competence Competence
	StateCode  string
}

func (e *NoAuthorityError) Error() string {
	return fmt.Sprintf("no %s authority configured for state %s", e.Competence, e.StateCode)
}

// ReferenceError wraps a failure to read reference data.
type ReferenceError struct {
	Message string
	Cause   error
}

func (e *ReferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reference data error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("reference data error: %s", e.Message)
}

func (e *ReferenceError) Unwrap() error {
	return e.Cause
}
