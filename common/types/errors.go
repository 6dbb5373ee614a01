package types

import "strings"

// MultiError collects independent failures, for example from a batch where every item is
// attempted regardless of earlier errors.
type MultiError struct {
	Errors []error
}

// Add appends err if it is not nil.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// ErrorOrNil returns nil if no errors were collected.
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *MultiError) Error() string {
	var errs []string
	for _, err := range e.Errors {
		errs = append(errs, err.Error())
	}

	return strings.Join(errs, "; ")
}

// Unwrap allows errors.Is and errors.As to match any of the collected errors.
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
