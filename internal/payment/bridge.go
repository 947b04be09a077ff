// Package payment integrates with the payment service: it creates payment
// requests, watches them for on-chain confirmation and reports completion.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/paidflow/internal/domain"
)

var (
	// ErrAlreadyMonitoring is returned when a reference is already watched
	ErrAlreadyMonitoring = errors.New("payment already monitored")

	// ErrNotMonitoring is returned when stopping a reference that is not watched
	ErrNotMonitoring = errors.New("payment not monitored")
)

// Request carries what the provider needs to open a payment.
type Request struct {
	PurchaserID string
	InputHash   string
}

// PaymentRequest is the provider's answer to a Request.
type PaymentRequest struct {
	Reference string
	Window    domain.PaymentWindow
}

// Confirmation is pushed when a monitored payment is confirmed.
type Confirmation struct {
	Reference string
	At        time.Time
}

// Bridge is the payment provider seen by the orchestrator. Confirmations are
// delivered on the channel handed to StartMonitoring.
type Bridge interface {
	CreatePaymentRequest(ctx context.Context, req Request) (*PaymentRequest, error)
	StartMonitoring(ctx context.Context, reference string, events chan<- Confirmation) error
	StopMonitoring(reference string) error
	MarkComplete(ctx context.Context, reference string, evidence []byte) error
}
