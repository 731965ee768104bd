package core

import (
	"errors"
	"fmt"
)

var (
	ErrMissionNotFound   = errors.New("mission not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPrerequisite      = errors.New("prerequisite not completed")
	ErrNotRepeatable     = errors.New("mission is not repeatable")
	ErrInvalidState      = errors.New("invalid mission state")
	ErrPlayerNotFound    = errors.New("player not loaded")
	ErrInvalidDefinition = errors.New("invalid mission definition")
	ErrUnsupportedSchema = errors.New("unsupported state schema version")
	ErrObjectiveNotFound = errors.New("objective not found")
)

// Stable failure codes. They travel to the companion client as error_code.
const (
	CodeMissionNotFound   = "MISSION_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidState      = "INVALID_STATE"
	CodePrerequisite      = "PREREQUISITE_NOT_MET"
	CodeNotRepeatable     = "NOT_REPEATABLE"
	CodePlayerNotFound    = "PLAYER_NOT_FOUND"
	CodeObjectiveNotFound = "OBJECTIVE_NOT_FOUND"
)

// Failure is an expected, reportable failure of a command or query.
type Failure struct {
	Code   string
	Reason string
	Err    error
}

// Failf builds a Failure wrapping err with a formatted reason.
func Failf(code string, err error, format string, args ...any) *Failure {
	return &Failure{Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (f *Failure) Error() string {
	return f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// FailureCode extracts the code of a Failure in err's chain, or fallback.
func FailureCode(err error, fallback string) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return fallback
}
