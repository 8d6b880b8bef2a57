// Package harnesserr defines the failure taxonomy for plm-harness.
//
// Every run-fatal condition and every per-fixture error maps to exactly one
// FailureClass, which determines the process exit code. Timeouts and output
// mismatches are outcomes, not errors, and never appear here.
package harnesserr

import (
	"errors"
	"fmt"
)

// FailureClass is a stable failure category.
type FailureClass string

const (
	CLIUsage       FailureClass = "CLI_USAGE"
	Config         FailureClass = "CONFIG"
	Discovery      FailureClass = "DISCOVERY"
	Build          FailureClass = "BUILD"
	ProgramMissing FailureClass = "PROGRAM_MISSING"
	FixtureRead    FailureClass = "FIXTURE_READ"
	Interrupted    FailureClass = "INTERRUPTED"
	InternalIO     FailureClass = "INTERNAL_IO"
	InternalError  FailureClass = "INTERNAL_ERROR"
)

// Exit codes shared by the CLI.
const (
	ExitSuccess     = 0
	ExitFailures    = 1
	ExitUsage       = 2
	ExitPrecondFail = 3
	ExitInternal    = 10
	ExitInterrupted = 130
)

// ExitCode returns the process exit code for this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case CLIUsage, Config:
		return ExitUsage
	case Discovery, Build, ProgramMissing:
		return ExitPrecondFail
	case FixtureRead:
		return ExitFailures
	case Interrupted:
		return ExitInterrupted
	default:
		return ExitInternal
	}
}

// Fatal reports whether the class aborts a run.
func (fc FailureClass) Fatal() bool {
	return fc != FixtureRead
}

// Error is the structured error type for all harness failures.
type Error struct {
	Class   FailureClass
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Path != "" {
		return fmt.Sprintf("harnesserr: %s %s: %s", e.Class, e.Path, msg)
	}
	return fmt.Sprintf("harnesserr: %s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message.
func New(class FailureClass, path string, message string) *Error {
	return &Error{Class: class, Path: path, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, path string, message string, cause error) *Error {
	return &Error{Class: class, Path: path, Message: message, Cause: cause}
}

// ClassOf returns the class of the first *Error in err's chain, or
// InternalError when none is present.
func ClassOf(err error) FailureClass {
	var he *Error
	if errors.As(err, &he) {
		return he.Class
	}
	return InternalError
}
