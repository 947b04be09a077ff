// Package orchestrator drives jobs from submission through payment
// confirmation to a terminal workflow outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/cuongbtq/paidflow/internal/metrics"
	"github.com/cuongbtq/paidflow/internal/payment"
	"github.com/cuongbtq/paidflow/internal/registry"
	"github.com/cuongbtq/paidflow/internal/schema"
	"github.com/cuongbtq/paidflow/internal/worker"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	msgAwaitingPayment = "Awaiting payment confirmation."
	msgRunning         = "Payment confirmed, task is running."
	msgCompleted       = "Task completed successfully."
	msgFailed          = "Task failed: "
	msgPaymentExpired  = "Payment window expired without confirmation."

	maxDetailLen        = 200
	confirmationBuffer  = 4
	markCompleteTimeout = 30 * time.Second
)

var (
	// ErrShuttingDown is returned by Submit once Shutdown has started
	ErrShuttingDown = errors.New("orchestrator is shutting down")

	errNotAwaiting = errors.New("job is not awaiting payment")
)

// Engine runs the external workflow for one input value.
type Engine interface {
	Execute(ctx context.Context, value any) (json.RawMessage, error)
}

// Config holds the orchestrator dependencies
type Config struct {
	Logger         *slog.Logger
	Store          registry.Store
	Bridge         payment.Bridge
	Engine         Engine
	Pool           *worker.Pool
	Schema         *schema.Schema
	PrimaryFieldID string
	Publisher      EventPublisher
	Clock          clockwork.Clock
}

// Submission is the result of accepting a job.
type Submission struct {
	Job     domain.Job
	Payment payment.PaymentRequest
}

// waiter owns one job's confirmation channel until teardown.
type waiter struct {
	jobID     string
	reference string
	deadline  time.Time
	events    chan payment.Confirmation
	done      chan struct{}
	once      sync.Once
}

// Orchestrator is the job state machine.
type Orchestrator struct {
	logger       *slog.Logger
	store        registry.Store
	bridge       payment.Bridge
	engine       Engine
	pool         *worker.Pool
	schema       *schema.Schema
	primaryField string
	publisher    EventPublisher
	clock        clockwork.Clock

	runCtx context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	waiters map[string]*waiter
	closed  bool
	wg      sync.WaitGroup
}

// New creates a new orchestrator instance
func New(cfg *Config) *Orchestrator {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sch := cfg.Schema
	if sch == nil {
		sch = schema.New(nil)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		logger:       cfg.Logger,
		store:        cfg.Store,
		bridge:       cfg.Bridge,
		engine:       cfg.Engine,
		pool:         cfg.Pool,
		schema:       sch,
		primaryField: cfg.PrimaryFieldID,
		publisher:    publisher,
		clock:        clock,
		runCtx:       runCtx,
		cancel:       cancel,
		waiters:      make(map[string]*waiter),
	}
}

// Start launches the worker pool that runs confirmed jobs.
func (o *Orchestrator) Start() {
	o.pool.Start(o.runCtx)
}

// Lookup returns a snapshot of the job.
func (o *Orchestrator) Lookup(id string) (domain.Job, error) {
	return o.store.Get(id)
}

// List returns a page of jobs matching filter.
func (o *Orchestrator) List(filter registry.Filter) []domain.Job {
	return o.store.Find(filter)
}

// Submit validates input, opens a payment request and registers a job that
// waits for the payment to be confirmed. No job exists when an error is returned.
func (o *Orchestrator) Submit(ctx context.Context, purchaserID string, input map[string]any) (*Submission, error) {
	if o.isClosed() {
		return nil, ErrShuttingDown
	}

	if err := o.schema.Validate(input); err != nil {
		return nil, err
	}

	inputHash, err := schema.Hash(input)
	if err != nil {
		return nil, err
	}

	req, err := o.bridge.CreatePaymentRequest(ctx, payment.Request{
		PurchaserID: purchaserID,
		InputHash:   inputHash,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentRequest) {
			err = fmt.Errorf("%w: %v", domain.ErrPaymentRequest, err)
		}
		o.logger.Error("Failed to create payment request",
			slog.String("purchaser_id", purchaserID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	events := make(chan payment.Confirmation, confirmationBuffer)
	if err := o.bridge.StartMonitoring(ctx, req.Reference, events); err != nil {
		return nil, fmt.Errorf("%w: failed to start payment monitoring: %v", domain.ErrPaymentRequest, err)
	}

	now := o.clock.Now()
	job := domain.Job{
		ID:               uuid.NewString(),
		State:            domain.StateAwaitingPayment,
		PaymentState:     domain.PaymentPending,
		PurchaserID:      purchaserID,
		InputData:        maps.Clone(input),
		InputHash:        inputHash,
		PaymentReference: req.Reference,
		PaymentWindow:    req.Window,
		Message:          msgAwaitingPayment,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	w := &waiter{
		jobID:     job.ID,
		reference: req.Reference,
		deadline:  parseDeadline(req.Window.PayByTime),
		events:    events,
		done:      make(chan struct{}),
	}

	// the closed check, the record and the waiter are committed together so
	// Shutdown never leaves a job without a waiter
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.stopMonitoring(w)
		return nil, ErrShuttingDown
	}
	if err := o.store.Create(job); err != nil {
		o.mu.Unlock()
		o.stopMonitoring(w)
		return nil, fmt.Errorf("failed to register job: %w", err)
	}
	o.waiters[job.ID] = w
	o.wg.Add(1)
	o.mu.Unlock()

	go o.wait(w)

	metrics.RecordJobCreated()
	metrics.RecordTransition(string(job.State))
	o.emit(job)

	o.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("purchaser_id", purchaserID),
		slog.String("input_hash", inputHash),
	)

	return &Submission{Job: job, Payment: *req}, nil
}

// wait consumes confirmations for one job until teardown.
func (o *Orchestrator) wait(w *waiter) {
	defer o.wg.Done()

	var expired <-chan time.Time
	if !w.deadline.IsZero() {
		timer := o.clock.NewTimer(max(w.deadline.Sub(o.clock.Now()), 0))
		defer timer.Stop()
		expired = timer.Chan()
	}

	for {
		select {
		case <-w.done:
			return

		case <-o.runCtx.Done():
			return

		case c := <-w.events:
			o.confirm(w, c)

		case <-expired:
			expired = nil
			o.expire(w)
		}
	}
}

// confirm moves an awaiting job to running and dispatches it. Only the first
// matching confirmation has an effect.
func (o *Orchestrator) confirm(w *waiter, c payment.Confirmation) {
	if c.Reference != w.reference {
		o.logger.Warn("Payment confirmation reference mismatch, ignoring",
			slog.String("job_id", w.jobID),
			slog.String("expected", w.reference),
			slog.String("received", c.Reference),
		)
		return
	}

	job, err := o.store.Update(w.jobID, func(job *domain.Job) error {
		if job.State != domain.StateAwaitingPayment {
			return errNotAwaiting
		}
		if err := job.Transition(domain.StateRunning, msgRunning, o.clock.Now()); err != nil {
			return err
		}
		job.PaymentState = domain.PaymentConfirmed
		return nil
	})
	if errors.Is(err, errNotAwaiting) {
		o.logger.Debug("Duplicate payment confirmation ignored",
			slog.String("job_id", w.jobID),
		)
		return
	}
	if err != nil {
		o.logger.Error("Failed to confirm job",
			slog.String("job_id", w.jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.RecordTransition(string(job.State))
	o.emit(job)
	o.logger.Info("Payment confirmed, dispatching task",
		slog.String("job_id", job.ID),
	)

	task := worker.Task{
		Name: "resolve-" + job.ID,
		Run: func(ctx context.Context) error {
			return o.resolve(ctx, w, job)
		},
	}
	if err := o.pool.Submit(o.runCtx, task); err != nil {
		o.finish(o.runCtx, w, job, nil, fmt.Errorf("failed to dispatch task: %w", err))
	}
}

// expire releases the payment monitor once the pay-by time has passed.
// The job keeps waiting in awaiting_payment.
func (o *Orchestrator) expire(w *waiter) {
	_, err := o.store.Update(w.jobID, func(job *domain.Job) error {
		if job.State != domain.StateAwaitingPayment {
			return errNotAwaiting
		}
		job.Message = msgPaymentExpired
		job.UpdatedAt = o.clock.Now()
		return nil
	})
	if errors.Is(err, errNotAwaiting) {
		return
	}
	if err != nil {
		o.logger.Error("Failed to expire job",
			slog.String("job_id", w.jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	o.logger.Warn("Payment window expired",
		slog.String("job_id", w.jobID),
		slog.Time("pay_by_time", w.deadline),
	)
	o.teardown(w)
}

// resolve runs the workflow for a confirmed job.
func (o *Orchestrator) resolve(ctx context.Context, w *waiter, job domain.Job) error {
	start := time.Now()
	result, err := o.execute(ctx, job.InputData[o.primaryField])
	if err == nil && len(result) == 0 {
		err = errors.New("workflow returned an empty result")
	}
	metrics.RecordTask(start, err)

	o.finish(ctx, w, job, result, err)
	return err
}

// execute runs the engine, turning a panic into an ordinary task error.
func (o *Orchestrator) execute(ctx context.Context, value any) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return o.engine.Execute(ctx, value)
}

// finish commits the terminal state of job and tears its waiter down.
func (o *Orchestrator) finish(ctx context.Context, w *waiter, job domain.Job, result json.RawMessage, execErr error) {
	defer o.teardown(w)

	var (
		updated domain.Job
		err     error
	)
	if execErr == nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markCompleteTimeout)
		if markErr := o.bridge.MarkComplete(mctx, job.PaymentReference, result); markErr != nil {
			o.logger.Warn("Failed to report result to payment service",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
		}
		cancel()

		updated, err = o.store.Update(job.ID, func(j *domain.Job) error {
			return j.Complete(result, msgCompleted, o.clock.Now())
		})
	} else {
		detail := execErr.Error()
		updated, err = o.store.Update(job.ID, func(j *domain.Job) error {
			return j.Fail(detail, msgFailed+truncate(detail), o.clock.Now())
		})
	}
	if err != nil {
		o.logger.Error("Failed to commit job outcome",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.RecordTransition(string(updated.State))
	o.emit(updated)

	if updated.State == domain.StateCompleted {
		o.logger.Info("Job completed", slog.String("job_id", updated.ID))
		return
	}
	o.logger.Warn("Job failed",
		slog.String("job_id", updated.ID),
		slog.String("error", updated.ErrorDetail),
	)
}

// teardown releases the job's monitor exactly once.
func (o *Orchestrator) teardown(w *waiter) {
	w.once.Do(func() {
		close(w.done)

		o.mu.Lock()
		delete(o.waiters, w.jobID)
		o.mu.Unlock()

		o.stopMonitoring(w)
	})
}

func (o *Orchestrator) stopMonitoring(w *waiter) {
	if err := o.bridge.StopMonitoring(w.reference); err != nil {
		o.logger.Warn("Failed to stop payment monitoring",
			slog.String("job_id", w.jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Shutdown stops accepting jobs, releases every payment monitor and waits for
// running tasks. When ctx ends first, running workflows are canceled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	waiters := make([]*waiter, 0, len(o.waiters))
	for _, w := range o.waiters {
		waiters = append(waiters, w)
	}
	o.mu.Unlock()

	o.logger.Info("Shutting down orchestrator", slog.Int("pending_jobs", len(waiters)))

	for _, w := range waiters {
		o.teardown(w)
	}

	drained := make(chan struct{})
	go func() {
		o.pool.Stop()
		o.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.logger.Warn("Shutdown deadline reached, canceling running tasks")
		o.cancel()
		<-drained
		return ctx.Err()
	}
}

// parseDeadline reads a pay-by time given either as RFC 3339 or as Unix
// milliseconds. An unparseable value yields the zero time.
func parseDeadline(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// truncate cuts s to at most maxDetailLen bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
