package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Run on an environment that has already
// been started. An environment runs once.
var ErrAlreadyRunning = errors.New("environment already started")

// ScheduleError describes a rejected schedule call. Rejections are
// advisory: Schedule logs them and returns handle 0.
type ScheduleError struct {
	// Trigger names the action.
	Trigger string
	// Reason is a short, stable description, e.g. "after stop".
	Reason string
}

// Error implements the error interface.
func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule %s: %s", e.Trigger, e.Reason)
}

// IsScheduleError returns true if err wraps a ScheduleError.
func IsScheduleError(err error) bool {
	var se *ScheduleError
	return errors.As(err, &se)
}
