package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/cuongbtq/paidflow/internal/payment"
	"github.com/cuongbtq/paidflow/internal/registry"
	"github.com/cuongbtq/paidflow/internal/schema"
	"github.com/cuongbtq/paidflow/internal/worker"
	"github.com/cuongbtq/paidflow/internal/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeBridge is an in-memory payment.Bridge driven by the test.
type fakeBridge struct {
	mu        sync.Mutex
	seq       int
	payBy     string
	createErr error
	startErr  error
	markErr   error
	onStart   func()
	channels  map[string]chan<- payment.Confirmation
	stopped   map[string]int
	marked    map[string][]byte
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		channels: make(map[string]chan<- payment.Confirmation),
		stopped:  make(map[string]int),
		marked:   make(map[string][]byte),
	}
}

func (b *fakeBridge) CreatePaymentRequest(ctx context.Context, req payment.Request) (*payment.PaymentRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.seq++
	return &payment.PaymentRequest{
		Reference: fmt.Sprintf("ref-%d", b.seq),
		Window:    domain.PaymentWindow{PayByTime: b.payBy},
	}, nil
}

func (b *fakeBridge) StartMonitoring(ctx context.Context, reference string, events chan<- payment.Confirmation) error {
	b.mu.Lock()
	if b.startErr != nil {
		b.mu.Unlock()
		return b.startErr
	}
	b.channels[reference] = events
	onStart := b.onStart
	b.mu.Unlock()

	if onStart != nil {
		onStart()
	}
	return nil
}

func (b *fakeBridge) StopMonitoring(reference string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[reference]; !ok {
		return payment.ErrNotMonitoring
	}
	delete(b.channels, reference)
	b.stopped[reference]++
	return nil
}

func (b *fakeBridge) MarkComplete(ctx context.Context, reference string, evidence []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked[reference] = evidence
	return b.markErr
}

// deliver pushes a confirmation for reference onto the channel of job.
func (b *fakeBridge) deliver(t *testing.T, channelRef, reference string) {
	t.Helper()
	b.mu.Lock()
	ch, ok := b.channels[channelRef]
	b.mu.Unlock()
	require.True(t, ok, "no monitor for %s", channelRef)

	select {
	case ch <- payment.Confirmation{Reference: reference, At: time.Now()}:
	case <-time.After(waitFor):
		t.Fatalf("confirmation for %s not consumed", reference)
	}
}

func (b *fakeBridge) stopCount(reference string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped[reference]
}

func (b *fakeBridge) monitoring(reference string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[reference]
	return ok
}

// fakeEngine counts executions and returns a configurable outcome.
type fakeEngine struct {
	calls   atomic.Int32
	release chan struct{}
	result  json.RawMessage
	err     error
	panics  any

	mu     sync.Mutex
	values []any
}

func (e *fakeEngine) Execute(ctx context.Context, value any) (json.RawMessage, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.values = append(e.values, value)
	e.mu.Unlock()

	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.panics != nil {
		panic(e.panics)
	}
	return e.result, e.err
}

// recordingPublisher keeps every event it receives.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) states(jobID string) []domain.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.State
	for _, ev := range p.events {
		if ev.JobID == jobID {
			out = append(out, ev.State)
		}
	}
	return out
}

type harness struct {
	orch      *Orchestrator
	store     *registry.Memory
	bridge    *fakeBridge
	engine    *fakeEngine
	publisher *recordingPublisher
}

func newHarness(t *testing.T, engine *fakeEngine, clock clockwork.Clock) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:     registry.NewMemory(),
		bridge:    newFakeBridge(),
		engine:    engine,
		publisher: &recordingPublisher{},
	}
	h.orch = New(&Config{
		Logger: logger,
		Store:  h.store,
		Bridge: h.bridge,
		Engine: engine,
		Pool: worker.NewPool(&worker.Config{
			Logger:      logger,
			Name:        "resolve",
			Concurrency: 2,
		}),
		Schema:         schema.New(nil),
		PrimaryFieldID: "topic",
		Publisher:      h.publisher,
		Clock:          clock,
	})
	h.orch.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.orch.Shutdown(ctx)
	})
	return h
}

func (h *harness) submit(t *testing.T, topic string) domain.Job {
	t.Helper()
	sub, err := h.orch.Submit(context.Background(), "purchaser-1", map[string]any{"topic": topic})
	require.NoError(t, err)
	return sub.Job
}

func (h *harness) waitState(t *testing.T, id string, want domain.State) domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := h.store.Get(id)
		return err == nil && job.State == want
	}, waitFor, tick)
	job, err := h.store.Get(id)
	require.NoError(t, err)
	return job
}

func okResult() json.RawMessage {
	return json.RawMessage(`{"status":"finished","final":{"CrewOutput":{"raw":"ANSWER"}}}`)
}

func TestSubmit_RegistersAwaitingJob(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)

	sub, err := h.orch.Submit(context.Background(), "purchaser-1", map[string]any{"topic": "go"})
	require.NoError(t, err)

	job, err := h.orch.Lookup(sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, job.State)
	assert.Equal(t, domain.PaymentPending, job.PaymentState)
	assert.Equal(t, "Awaiting payment confirmation.", job.Message)
	assert.Equal(t, "ref-1", job.PaymentReference)
	assert.Equal(t, sub.Payment.Reference, job.PaymentReference)
	assert.NotEmpty(t, job.InputHash)
	assert.Equal(t, "purchaser-1", job.PurchaserID)
	assert.True(t, h.bridge.monitoring("ref-1"))
	assert.Equal(t, int32(0), h.engine.calls.Load())
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		setup   func(b *fakeBridge)
		wantErr func(t *testing.T, err error)
	}{
		{
			name:  "missing required field",
			input: map[string]any{},
			wantErr: func(t *testing.T, err error) {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				require.Len(t, verr.Fields, 1)
				assert.Equal(t, "topic", verr.Fields[0].Field)
			},
		},
		{
			name:  "wrong field type",
			input: map[string]any{"topic": 12},
			wantErr: func(t *testing.T, err error) {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
			},
		},
		{
			name:  "payment request fails",
			input: map[string]any{"topic": "go"},
			setup: func(b *fakeBridge) { b.createErr = errors.New("service down") },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrPaymentRequest)
			},
		},
		{
			name:  "monitoring cannot start",
			input: map[string]any{"topic": "go"},
			setup: func(b *fakeBridge) { b.startErr = payment.ErrAlreadyMonitoring },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrPaymentRequest)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeEngine{result: okResult()}, nil)
			if tt.setup != nil {
				tt.setup(h.bridge)
			}

			sub, err := h.orch.Submit(context.Background(), "purchaser-1", tt.input)

			require.Error(t, err)
			assert.Nil(t, sub)
			tt.wantErr(t, err)
			assert.Empty(t, h.store.List())
		})
	}
}

func TestConfirm_RunsToCompletion(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)
	job := h.submit(t, "quantum")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	done := h.waitState(t, job.ID, domain.StateCompleted)
	assert.Equal(t, domain.PaymentCompleted, done.PaymentState)
	assert.Equal(t, "Task completed successfully.", done.Message)
	assert.JSONEq(t, string(okResult()), string(done.RawTaskResult))
	assert.Empty(t, done.ErrorDetail)

	assert.Equal(t, []any{"quantum"}, h.engine.values)
	assert.Equal(t, []byte(okResult()), h.bridge.marked[job.PaymentReference])
	assert.Eventually(t, func() bool { return h.bridge.stopCount(job.PaymentReference) == 1 }, waitFor, tick)
	assert.Equal(t,
		[]domain.State{domain.StateAwaitingPayment, domain.StateRunning, domain.StateCompleted},
		h.publisher.states(job.ID))
}

func TestConfirm_DuplicatesAreIgnored(t *testing.T) {
	engine := &fakeEngine{result: okResult(), release: make(chan struct{})}
	h := newHarness(t, engine, nil)
	job := h.submit(t, "go")

	for i := 0; i < 3; i++ {
		h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)
	}
	h.waitState(t, job.ID, domain.StateRunning)
	close(engine.release)

	h.waitState(t, job.ID, domain.StateCompleted)
	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Equal(t,
		[]domain.State{domain.StateAwaitingPayment, domain.StateRunning, domain.StateCompleted},
		h.publisher.states(job.ID))
}

func TestConfirm_ReferenceMismatchIsDropped(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, "someone-else")

	assert.Never(t, func() bool {
		j, _ := h.store.Get(job.ID)
		return j.State != domain.StateAwaitingPayment
	}, 100*time.Millisecond, tick)
	assert.Equal(t, int32(0), h.engine.calls.Load())

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)
	h.waitState(t, job.ID, domain.StateCompleted)
}

func TestConfirm_IsolatedPerJob(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)
	first := h.submit(t, "one")
	second := h.submit(t, "two")

	h.bridge.deliver(t, first.PaymentReference, first.PaymentReference)
	h.waitState(t, first.ID, domain.StateCompleted)

	other, err := h.store.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, other.State)
	assert.Equal(t, domain.PaymentPending, other.PaymentState)
	assert.True(t, h.bridge.monitoring(second.PaymentReference))
}

func TestResolve_FailureMarksJobFailed(t *testing.T) {
	execErr := fmt.Errorf("%w after 30s for /outputs/status/run-1", workflow.ErrTimeout)
	h := newHarness(t, &fakeEngine{err: execErr}, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	failed := h.waitState(t, job.ID, domain.StateFailed)
	assert.Equal(t, domain.PaymentConfirmedTaskFailed, failed.PaymentState)
	assert.Contains(t, failed.Message, "Task failed:")
	assert.Contains(t, failed.Message, "timed out")
	assert.Equal(t, execErr.Error(), failed.ErrorDetail)
	assert.Nil(t, failed.RawTaskResult)
	assert.NotContains(t, h.bridge.marked, job.PaymentReference)
	assert.Eventually(t, func() bool { return h.bridge.stopCount(job.PaymentReference) == 1 }, waitFor, tick)
}

func TestResolve_LongDetailIsTruncatedInMessage(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	h := newHarness(t, &fakeEngine{err: errors.New(string(long))}, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	failed := h.waitState(t, job.ID, domain.StateFailed)
	assert.Len(t, failed.Message, len("Task failed: ")+200)
	assert.Len(t, failed.ErrorDetail, 500)
}

func TestResolve_DetailTruncatedOnRuneBoundary(t *testing.T) {
	detail := strings.Repeat("x", 199) + "é" + strings.Repeat("y", 50)
	h := newHarness(t, &fakeEngine{err: errors.New(detail)}, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	failed := h.waitState(t, job.ID, domain.StateFailed)
	assert.True(t, utf8.ValidString(failed.Message))
	assert.Equal(t, "Task failed: "+strings.Repeat("x", 199), failed.Message)
	assert.Equal(t, detail, failed.ErrorDetail)
}

func TestResolve_EnginePanicFailsJob(t *testing.T) {
	h := newHarness(t, &fakeEngine{panics: "nil map write"}, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	failed := h.waitState(t, job.ID, domain.StateFailed)
	assert.Equal(t, domain.PaymentConfirmedTaskFailed, failed.PaymentState)
	assert.Contains(t, failed.ErrorDetail, "task panicked: nil map write")
	assert.Contains(t, failed.Message, "Task failed: task panicked")
	assert.Eventually(t, func() bool { return h.bridge.stopCount(job.PaymentReference) == 1 }, waitFor, tick)
	assert.False(t, h.bridge.monitoring(job.PaymentReference))
	assert.Equal(t,
		[]domain.State{domain.StateAwaitingPayment, domain.StateRunning, domain.StateFailed},
		h.publisher.states(job.ID))
}

func TestResolve_MarkCompleteFailureStillCompletes(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)
	h.bridge.markErr = errors.New("payment service unavailable")
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	done := h.waitState(t, job.ID, domain.StateCompleted)
	assert.Equal(t, domain.PaymentCompleted, done.PaymentState)
	assert.Equal(t, "Task completed successfully.", done.Message)
}

func TestResolve_EmptyResultFails(t *testing.T) {
	h := newHarness(t, &fakeEngine{}, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)

	failed := h.waitState(t, job.ID, domain.StateFailed)
	assert.Contains(t, failed.ErrorDetail, "empty result")
}

func TestPayByExpiry_ReleasesMonitor(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	h := newHarness(t, &fakeEngine{result: okResult()}, clock)
	h.bridge.payBy = clock.Now().Add(time.Hour).Format(time.RFC3339)
	job := h.submit(t, "go")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(59 * time.Minute)
	assert.True(t, h.bridge.monitoring(job.PaymentReference))

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return h.bridge.stopCount(job.PaymentReference) == 1 }, waitFor, tick)

	expired, err := h.store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingPayment, expired.State)
	assert.Equal(t, domain.PaymentPending, expired.PaymentState)
	assert.Equal(t, "Payment window expired without confirmation.", expired.Message)
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)
	job := h.submit(t, "go")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	assert.Equal(t, 1, h.bridge.stopCount(job.PaymentReference))

	_, err := h.orch.Submit(context.Background(), "purchaser-1", map[string]any{"topic": "go"})
	require.ErrorIs(t, err, ErrShuttingDown)

	// second call is a no-op
	require.NoError(t, h.orch.Shutdown(ctx))
}

func TestShutdown_CancelsRunningTaskAtDeadline(t *testing.T) {
	engine := &fakeEngine{result: okResult(), release: make(chan struct{})}
	h := newHarness(t, engine, nil)
	job := h.submit(t, "go")

	h.bridge.deliver(t, job.PaymentReference, job.PaymentReference)
	h.waitState(t, job.ID, domain.StateRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.orch.Shutdown(ctx), context.DeadlineExceeded)

	failed := h.waitState(t, job.ID, domain.StateFailed)
	assert.Contains(t, failed.ErrorDetail, "context canceled")
}

func TestParseDeadline(t *testing.T) {
	ref := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "rfc3339", in: ref.Format(time.RFC3339), want: ref},
		{name: "unix millis", in: fmt.Sprint(ref.UnixMilli()), want: ref},
		{name: "empty", in: ""},
		{name: "garbage", in: "tomorrow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDeadline(tt.in)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestSubmit_ShutdownDuringSubmitCreatesNoJob(t *testing.T) {
	h := newHarness(t, &fakeEngine{result: okResult()}, nil)
	h.bridge.onStart = func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, h.orch.Shutdown(ctx))
	}

	sub, err := h.orch.Submit(context.Background(), "purchaser-1", map[string]any{"topic": "go"})

	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, sub)
	assert.Empty(t, h.store.List())
	assert.Equal(t, 1, h.bridge.stopCount("ref-1"))
}
