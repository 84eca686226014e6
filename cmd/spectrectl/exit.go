package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/participant"
)

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
	exitAborted = 3
)

type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitError) Unwrap() error { return e.err }

func wrapExit(code int, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, msg: msg, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, participant.ErrAborted) || errors.Is(err, participant.ErrSequenceGap) || dispatch.IsFatal(err) {
		return exitAborted
	}
	return exitFailure
}
