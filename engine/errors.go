package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNoAvailableRobots = errors.New("no available robots")
	ErrNoLocation        = errors.New("event has no dispatchable location")
)

// ValidationError is a rejected request. Its message names the violated
// constraint and is safe to return to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
