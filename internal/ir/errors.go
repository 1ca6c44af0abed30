package ir

import (
	"errors"
	"fmt"

	"github.com/roach88/tagflow/internal/tag"
)

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStatusViolation indicates a reaction was observed in a status
	// its lifecycle does not allow at that point.
	ErrCodeStatusViolation RuntimeErrorCode = "REACTION_STATUS_VIOLATION"

	// ErrCodeDoubleQueue indicates a reaction was inserted into a ready
	// structure twice for the same tag.
	ErrCodeDoubleQueue RuntimeErrorCode = "DOUBLE_QUEUE"

	// ErrCodeTagRegression indicates logical time would move backwards.
	ErrCodeTagRegression RuntimeErrorCode = "TAG_REGRESSION"

	// ErrCodeAdvancePastStop indicates tag advancement beyond the stop tag.
	ErrCodeAdvancePastStop RuntimeErrorCode = "ADVANCE_PAST_STOP"

	// ErrCodeLevelOverflow indicates a per-level ready array overflowed or
	// level ordering was violated between dispatched reactions.
	ErrCodeLevelOverflow RuntimeErrorCode = "LEVEL_OVERFLOW"

	// ErrCodeInvalidProgram indicates a program failed validation.
	ErrCodeInvalidProgram RuntimeErrorCode = "INVALID_PROGRAM"

	// ErrCodeCausalityCycle indicates the reaction graph contains a cycle.
	ErrCodeCausalityCycle RuntimeErrorCode = "CAUSALITY_CYCLE"

	// ErrCodeInvalidInstruction indicates a malformed static program.
	ErrCodeInvalidInstruction RuntimeErrorCode = "INVALID_INSTRUCTION"
)

// RuntimeError represents an error detected while executing a program.
//
// Fatal errors are raised with Fatal, which panics with the *RuntimeError.
// The worker pool recovers them and stops the environment.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Reaction names the affected reaction, if any.
	Reaction string

	// Tag is the logical tag at detection, if known.
	Tag *tag.Tag

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Reaction != "" && e.Tag != nil:
		return fmt.Sprintf("%s: %s (reaction=%s, tag=%s)", e.Code, e.Message, e.Reaction, *e.Tag)
	case e.Reaction != "":
		return fmt.Sprintf("%s: %s (reaction=%s)", e.Code, e.Message, e.Reaction)
	case e.Tag != nil:
		return fmt.Sprintf("%s: %s (tag=%s)", e.Code, e.Message, *e.Tag)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal panics with a RuntimeError. Used for scheduler inconsistencies
// that leave no safe way to continue.
func Fatal(code RuntimeErrorCode, reaction string, format string, args ...any) {
	panic(&RuntimeError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Reaction: reaction,
	})
}

// FatalAt is Fatal with the tag at which the inconsistency was detected.
func FatalAt(code RuntimeErrorCode, at tag.Tag, format string, args ...any) {
	panic(&RuntimeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Tag:     &at,
	})
}

// IsCode reports whether err wraps a RuntimeError with the given code.
func IsCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsFatal reports whether err wraps a fatal-class RuntimeError.
func IsFatal(err error) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case ErrCodeStatusViolation, ErrCodeDoubleQueue, ErrCodeTagRegression,
		ErrCodeAdvancePastStop, ErrCodeLevelOverflow, ErrCodeInvalidInstruction:
		return true
	}
	return false
}

// RecoverFatal converts a recovered panic value into an error when it is a
// RuntimeError and re-panics otherwise. Use inside a deferred func:
//
//	defer func() { err = ir.RecoverFatal(recover(), err) }()
func RecoverFatal(r any, err error) error {
	if r == nil {
		return err
	}
	if re, ok := r.(*RuntimeError); ok {
		return re
	}
	panic(r)
}
