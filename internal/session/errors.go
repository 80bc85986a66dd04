package session

import (
	"errors"
	"fmt"
)

// ErrSessionCompleted is returned for turns on a finished session.
var ErrSessionCompleted = errors.New("session already completed")

// ValidationError rejects a request before anything is mutated.
type ValidationError struct {
	Field  string
	Reason string

	// NotFound marks references to sessions or goals that do not exist.
	NotFound bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsNotFound reports whether err is a ValidationError for a missing
// session or goal.
func IsNotFound(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.NotFound
}
