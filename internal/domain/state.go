package domain

// State is the lifecycle state of a job.
type State string

// Job state constants
const (
	StateAwaitingPayment State = "awaiting_payment"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// PaymentState tracks the payment side of a job independently of its state.
type PaymentState string

// Payment state constants
const (
	PaymentPending             PaymentState = "pending"
	PaymentConfirmed           PaymentState = "confirmed"
	PaymentCompleted           PaymentState = "completed"
	PaymentConfirmedTaskFailed PaymentState = "confirmed_task_failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether s may move to next.
// Jobs only move forward: awaiting_payment -> running -> completed | failed.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateAwaitingPayment:
		return next == StateRunning
	case StateRunning:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}
