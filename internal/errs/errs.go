// Package errs defines the engine's error taxonomy.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication        = errors.New("authentication failed")
	ErrSessionExpired        = errors.New("session expired")
	ErrNavigationTimeout     = errors.New("navigation timeout")
	ErrSelectionNotConfirmed = errors.New("selection not confirmed")
	ErrBookingStep           = errors.New("booking step failed")
	ErrExtractionIncomplete  = errors.New("extraction incomplete")
	ErrCancellation          = errors.New("cancellation failed")
	ErrReservationNotListed  = errors.New("reservation not listed")

	// ErrNoResults marks a valid empty search outcome. It is never returned
	// as a failure by the orchestrators; callers may use it to label reports.
	ErrNoResults = errors.New("no results found")
)

// Reasons carried by AuthError.
const (
	AuthFormTimeout    = "form-timeout"
	AuthBadCredentials = "bad-credentials"
	AuthUnreachable    = "unreachable"
)

// AuthError is an authentication failure with a reason distinguishing a login
// form that never rendered from credentials the portal rejected.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAuthentication, e.Err}
	}
	return []error{ErrAuthentication}
}

// StepError is a booking commitment-flow step that could not complete.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("booking step %q failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("booking step %q failed", e.Step)
}

func (e *StepError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBookingStep, e.Err}
	}
	return []error{ErrBookingStep}
}

// BookingStep returns a StepError for step.
func BookingStep(step string, err error) error {
	return &StepError{Step: step, Err: err}
}

// CancelError is a cancellation of one reservation that stopped at Step.
type CancelError struct {
	Step   string
	Number string
	Err    error
}

func (e *CancelError) Error() string {
	msg := fmt.Sprintf("cancel step %q failed", e.Step)
	if e.Number != "" {
		msg = fmt.Sprintf("cancel %s: step %q failed", e.Number, e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CancelError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCancellation, e.Err}
	}
	return []error{ErrCancellation}
}

// CancelStep returns a CancelError for the reservation number at step.
func CancelStep(step, number string, err error) error {
	return &CancelError{Step: step, Number: number, Err: err}
}

// NavigationError reports a UI transition that never completed.
type NavigationError struct {
	Op    string
	Steps int
	Err   error
}

func (e *NavigationError) Error() string {
	msg := fmt.Sprintf("navigation timeout during %s", e.Op)
	if e.Steps > 0 {
		msg += fmt.Sprintf(" after %d steps", e.Steps)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NavigationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNavigationTimeout, e.Err}
	}
	return []error{ErrNavigationTimeout}
}

// Navigation returns a NavigationError for op.
func Navigation(op string, steps int, err error) error {
	return &NavigationError{Op: op, Steps: steps, Err: err}
}

// StepOf extracts the failing step name from err, if it carries one.
func StepOf(err error) (string, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
