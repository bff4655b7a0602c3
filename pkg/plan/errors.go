package plan

import "fmt"

// ValidationError names the offending field of a rejected plan by JSON pointer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan at %s: %s", e.Field, e.Reason)
}
