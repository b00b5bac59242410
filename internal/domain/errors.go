package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrEmptyMessage indicates a submitted turn with no text
	ErrEmptyMessage = errors.New("empty message")
	// ErrTurnInFlight indicates a turn is already streaming for the session
	ErrTurnInFlight = errors.New("turn already in flight")
	// ErrTraceUnavailable indicates the trace endpoint could not resolve a run
	ErrTraceUnavailable = errors.New("trace unavailable")
	// ErrFeedbackAlreadySent indicates explicit feedback was already recorded for the run
	ErrFeedbackAlreadySent = errors.New("feedback already sent")
)

// MalformedPatchError indicates a patch batch targeted a path invalid for
// the current document shape. It terminates the turn; the last good
// snapshot is kept for display.
type MalformedPatchError struct {
	Cause error
}

func (e *MalformedPatchError) Error() string {
	return fmt.Sprintf("malformed patch: %v", e.Cause)
}

func (e *MalformedPatchError) Unwrap() error { return e.Cause }

// TransportError indicates the remote stream failed to open or broke
// mid-flight.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// FeedbackSubmissionError indicates the feedback side channel rejected a
// submission. It never affects turn state.
type FeedbackSubmissionError struct {
	Code  int
	Cause error
}

func (e *FeedbackSubmissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("feedback submission: %v", e.Cause)
	}
	return fmt.Sprintf("feedback submission: unexpected code %d", e.Code)
}

func (e *FeedbackSubmissionError) Unwrap() error { return e.Cause }
