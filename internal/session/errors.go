package session

import (
	"errors"
	"fmt"
)

// ReasonInflateFailed is reported when no viewport candidate inflates.
const ReasonInflateFailed = "Unable to inflate document"

// ReasonNoContent is reported when a build arrives with nothing to inflate.
const ReasonNoContent = "No content to inflate"

// StateError is an operation requested in a state that cannot serve it,
// almost always "no root context yet".
type StateError struct {
	Op    string
	State State
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.State)
}

// IsStateError reports whether err is a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
