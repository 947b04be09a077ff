package domain

import (
	"errors"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when registering a job id twice
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when a state change would move a job backwards
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrPaymentRequest is returned when the payment provider cannot create a request
	ErrPaymentRequest = errors.New("payment request failed")
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned when the submitted input does not match the schema.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// HasErrors reports whether any field was rejected.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}
