package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/paidflow/internal/domain"
)

const publishTimeout = 5 * time.Second

// EventPublisher delivers job lifecycle events to an external broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }

// Event is emitted after every committed job transition.
type Event struct {
	Type         string              `json:"type"`
	JobID        string              `json:"jobId"`
	State        domain.State        `json:"state"`
	PaymentState domain.PaymentState `json:"paymentState"`
	Message      string              `json:"message"`
	Reference    string              `json:"paymentReference"`
	At           time.Time           `json:"at"`
}

func routingKey(state domain.State) string {
	return "job." + string(state)
}

// emit publishes the event for job. Failures are logged and never affect the job.
func (o *Orchestrator) emit(job domain.Job) {
	event := Event{
		Type:         "job.transition",
		JobID:        job.ID,
		State:        job.State,
		PaymentState: job.PaymentState,
		Message:      job.Message,
		Reference:    job.PaymentReference,
		At:           job.UpdatedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		o.logger.Error("Failed to encode job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.publisher.Publish(ctx, routingKey(job.State), body); err != nil {
		o.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("state", string(job.State)),
			slog.String("error", err.Error()),
		)
	}
}
