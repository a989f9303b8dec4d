package models

import "time"

// BookingOutcome is the terminal state of a booking attempt.
type BookingOutcome string

const (
	OutcomeSucceeded BookingOutcome = "succeeded"
	OutcomeFailed    BookingOutcome = "failed"
)

// BookingResult is the sole output of a booking attempt. It is created once
// per attempt and not modified afterwards.
type BookingResult struct {
	AttemptID          string         `json:"attempt_id"`
	Facility           FacilityRef    `json:"facility"`
	Slot               Slot           `json:"slot"`
	UserCount          int            `json:"user_count"`
	EventLabel         string         `json:"event_label,omitempty"`
	Outcome            BookingOutcome `json:"outcome"`
	ConfirmationNumber string         `json:"confirmation_number,omitempty"`
	FailureStep        string         `json:"failure_step,omitempty"`
	FailureReason      string         `json:"failure_reason,omitempty"`
	Committed          bool           `json:"committed"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
}

// Succeeded reports whether the attempt produced a confirmation number.
func (r BookingResult) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}
