package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is one submitted unit of work tracked from creation to a terminal outcome.
type Job struct {
	ID               string
	State            State
	PaymentState     PaymentState
	PurchaserID      string
	InputData        map[string]any // immutable once set
	InputHash        string
	PaymentReference string
	PaymentWindow    PaymentWindow
	RawTaskResult    json.RawMessage // set once, only on success
	ErrorDetail      string          // set once, only on failure
	Message          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PaymentWindow holds the settlement times reported by the payment provider.
type PaymentWindow struct {
	PayByTime                 string
	SubmitResultTime          string
	UnlockTime                string
	ExternalDisputeUnlockTime string
}

// Transition moves the job to next, enforcing forward-only ordering.
func (j *Job) Transition(next State, message string, at time.Time) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
	}
	j.State = next
	j.Message = message
	j.UpdatedAt = at
	return nil
}

// Complete records a successful outcome. The job must be running.
func (j *Job) Complete(result json.RawMessage, message string, at time.Time) error {
	if len(result) == 0 {
		return fmt.Errorf("%w: empty task result", ErrInvalidTransition)
	}
	if err := j.Transition(StateCompleted, message, at); err != nil {
		return err
	}
	j.RawTaskResult = result
	j.PaymentState = PaymentCompleted
	return nil
}

// Fail records a failed outcome. The job must be running.
func (j *Job) Fail(detail, message string, at time.Time) error {
	if detail == "" {
		detail = "unknown error"
	}
	if err := j.Transition(StateFailed, message, at); err != nil {
		return err
	}
	j.ErrorDetail = detail
	j.PaymentState = PaymentConfirmedTaskFailed
	return nil
}
