// Package ferr defines the error taxonomy shared across the dependency
// engine, module registry, and task runtime (spec §7), generalizing the
// teacher's kernel/utils.NewError/WrapError helpers into a small code
// enum plus a wrapping *Error type.
package ferr

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Code identifies a class of error from the taxonomy in spec §7.
type Code int

const (
	CodeUnknown Code = iota

	// Parse errors.
	CodeInvalidVersionString
	CodeInvalidManifest
	CodeBufferOverflow

	// Graph errors.
	CodeInvalidCoreModule
	CodeNotAModule
	CodeMissingExport
	CodeDuplicateInterface
	CodeCoreInterfaceNotFound
	CodeMissingDependencies
	CodeCyclicDependencies

	// Registry errors.
	CodeUnknownLoaderID
	CodeUnknownLoaderType
	CodeDuplicateLoaderType
	CodeUnknownLoaderCallbackID
	CodeUnknownInterfaceID
	CodeUnknownInterface
	CodeUnknownInterfaceCallbackID
	CodeIDExhausted

	// Runtime errors.
	CodeNotInWorker
	CodeNotRegistered
	CodeResourceExhausted
	CodeFailedPrecondition
	CodeInvalidArgument
	CodeCanceled
	CodeTimedOut

	// IO.
	CodeIO
)

var codeNames = map[Code]string{
	CodeUnknown:                    "Unknown",
	CodeInvalidVersionString:       "InvalidVersionString",
	CodeInvalidManifest:            "InvalidManifest",
	CodeBufferOverflow:             "BufferOverflow",
	CodeInvalidCoreModule:          "InvalidCoreModule",
	CodeNotAModule:                 "NotAModule",
	CodeMissingExport:              "MissingExport",
	CodeDuplicateInterface:         "DuplicateInterface",
	CodeCoreInterfaceNotFound:      "CoreInterfaceNotFound",
	CodeMissingDependencies:        "MissingDependencies",
	CodeCyclicDependencies:         "CyclicDependencies",
	CodeUnknownLoaderID:            "UnknownLoaderId",
	CodeUnknownLoaderType:          "UnknownLoaderType",
	CodeDuplicateLoaderType:        "DuplicateLoaderType",
	CodeUnknownLoaderCallbackID:    "UnknownLoaderCallbackId",
	CodeUnknownInterfaceID:         "UnknownInterfaceId",
	CodeUnknownInterface:           "UnknownInterface",
	CodeUnknownInterfaceCallbackID: "UnknownInterfaceCallbackId",
	CodeIDExhausted:                "IdExhausted",
	CodeNotInWorker:                "NotInWorker",
	CodeNotRegistered:              "NotRegistered",
	CodeResourceExhausted:          "ResourceExhausted",
	CodeFailedPrecondition:         "FailedPrecondition",
	CodeInvalidArgument:            "InvalidArgument",
	CodeCanceled:                   "Canceled",
	CodeTimedOut:                   "TimedOut",
	CodeIO:                         "IO",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Error is a tagged-union style error carrying a Code, a human message
// and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same Code, so errors.Is(err,
// ferr.New(CodeTimedOut, "")) works as a code-class check.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// New constructs an *Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// BufferOverflow constructs the CodeBufferOverflow error used by the
// version encoder's exact-buffer-length contract (spec §4.1).
func BufferOverflow(bufLen, needed int) *Error {
	return Newf(CodeBufferOverflow, "buffer overflow: buffer=%d needed=%d", bufLen, needed)
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err (or any error in its Unwrap chain) has the
// given Code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// IsUnknownOrNotFound reports whether err represents a "the entry is
// already gone" condition, the class that RAII handle drops must
// silently swallow per spec §7.
func IsUnknownOrNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case HasCode(err, CodeUnknownLoaderID),
		HasCode(err, CodeUnknownLoaderType),
		HasCode(err, CodeUnknownLoaderCallbackID),
		HasCode(err, CodeUnknownInterfaceID),
		HasCode(err, CodeUnknownInterface),
		HasCode(err, CodeUnknownInterfaceCallbackID):
		return true
	default:
		return false
	}
}

// Combine aggregates zero or more errors into one using multierr,
// returning nil when every argument is nil. CommandBuffer.Join uses it
// to report every failed task's error at once, the way the teacher's
// registry validators accumulate independent failures.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}
