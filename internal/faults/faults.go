// Package faults defines the broker error kinds and their stable wire codes.
//
// Every participant reports handler failures by code so the head can compare
// verdicts across the group without shipping Go error values.
package faults

import (
	"errors"
	"fmt"
)

var (
	ErrClassNotFound     = errors.New("class not found")
	ErrUnknownID         = errors.New("unknown object id")
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrArgumentMismatch  = errors.New("argument mismatch")
	ErrUnknownReference  = errors.New("unknown object reference")
	ErrDuplicateID       = errors.New("duplicate object id")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrHandlerFailed     = errors.New("handler failed")
	ErrParticipantFailed = errors.New("participant failed")
)

// Wire codes for each error kind.
const (
	CodeOK                = ""
	CodeClassNotFound     = "class_not_found"
	CodeUnknownID         = "unknown_id"
	CodeUnknownParameter  = "unknown_parameter"
	CodeUnknownMethod     = "unknown_method"
	CodeTypeMismatch      = "type_mismatch"
	CodeArgumentMismatch  = "argument_mismatch"
	CodeUnknownReference  = "unknown_reference"
	CodeDuplicateID       = "duplicate_id"
	CodeMalformedPayload  = "malformed_payload"
	CodeHandlerFailed     = "handler_failed"
	CodeParticipantFailed = "participant_failed"
)

var kinds = []struct {
	code string
	err  error
}{
	{CodeClassNotFound, ErrClassNotFound},
	{CodeUnknownID, ErrUnknownID},
	{CodeUnknownParameter, ErrUnknownParameter},
	{CodeUnknownMethod, ErrUnknownMethod},
	{CodeTypeMismatch, ErrTypeMismatch},
	{CodeArgumentMismatch, ErrArgumentMismatch},
	{CodeUnknownReference, ErrUnknownReference},
	{CodeDuplicateID, ErrDuplicateID},
	{CodeMalformedPayload, ErrMalformedPayload},
	{CodeParticipantFailed, ErrParticipantFailed},
}

// Code maps err to its wire code. Errors outside the known kinds map to
// CodeHandlerFailed; nil maps to CodeOK.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeHandlerFailed
}

// Sentinel returns the error kind bound to code.
func Sentinel(code string) error {
	if code == CodeOK {
		return nil
	}
	for _, k := range kinds {
		if k.code == code {
			return k.err
		}
	}
	return ErrHandlerFailed
}

// FromCode rebuilds an error from a wire code and message. The result still
// matches the kind sentinel with errors.Is.
func FromCode(code, message string) error {
	sentinel := Sentinel(code)
	if sentinel == nil {
		return nil
	}
	if message == "" || message == sentinel.Error() {
		return sentinel
	}
	return &remoteError{kind: sentinel, message: message}
}

// Fatal reports whether a fault kind can never be recovered from, even when
// every participant agrees on it.
func Fatal(code string) bool {
	return code == CodeDuplicateID || code == CodeParticipantFailed
}

type remoteError struct {
	kind    error
	message string
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.kind }

// Wrap annotates kind with a formatted detail while keeping errors.Is intact.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
