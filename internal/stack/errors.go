package stack

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTimedOut is returned by Poller.Wait when the overall timeout elapses.
var ErrTimedOut = errors.New("timed out waiting for stack operation")

// ValidationError is a rejection of a template, parameters or operation by the remote service.
type ValidationError struct {
	// Code is the remote error code, e.g. "ValidationError".
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FatalError wraps an error that could not be classified: the remote service could not be
// reached or answered unexpectedly. It says nothing about the state of the stack.
type FatalError struct {
	Op    string
	Stack string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("stack %q: %s: %v", e.Stack, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// Class is the semantic category of an error raised by a Client.
type Class int

const (
	// ClassFatal covers everything that is not a remote rejection.
	ClassFatal Class = iota
	// ClassNoOp is a rejection only because no changes are needed.
	ClassNoOp
	// ClassValidation is any other rejection.
	ClassValidation
)

func (c Class) String() string {
	switch c {
	case ClassNoOp:
		return "no-op"
	case ClassValidation:
		return "validation"
	default:
		return "fatal"
	}
}

// noUpdatesMessage is the remote wording for an update that would change nothing.
const noUpdatesMessage = "No updates are to be performed"

// IsNoOpRejection reports whether a rejection message means there was nothing to change.
func IsNoOpRejection(message string) bool {
	return strings.Contains(message, noUpdatesMessage)
}

// Classify maps an error raised by a Client to its Class. It expects a non-nil error.
func Classify(err error) Class {
	var rejection *ValidationError
	if !errors.As(err, &rejection) {
		return ClassFatal
	}
	if IsNoOpRejection(rejection.Message) {
		return ClassNoOp
	}
	return ClassValidation
}
