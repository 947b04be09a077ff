// Package workflow drives a run of the external workflow service: it logs in,
// finds the configured flow, triggers it and polls the run until a terminal
// status or the poll timeout.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuongbtq/paidflow/internal/metrics"
	"github.com/tidwall/gjson"
)

// Transport is the subset of the workflow service API used by the engine.
type Transport interface {
	Login(ctx context.Context) (string, error)
	ListFlows(ctx context.Context, token string) ([]Flow, error)
	Trigger(ctx context.Context, token, flowURL string, form url.Values) (*Response, error)
	Status(ctx context.Context, token, target string) (*Response, error)
}

// EngineConfig holds engine settings
type EngineConfig struct {
	Logger           *slog.Logger
	Transport        Transport
	FlowNameContains string
	PayloadKey       string
	Success          StatusSet
	Failure          StatusSet
	Policy           PollPolicy
}

// Engine runs one workflow to a terminal outcome per call.
type Engine struct {
	logger     *slog.Logger
	transport  Transport
	flowName   string
	payloadKey string
	success    StatusSet
	failure    StatusSet
	policy     PollPolicy
}

// NewEngine creates a new Engine instance
func NewEngine(cfg *EngineConfig) *Engine {
	return &Engine{
		logger:     cfg.Logger,
		transport:  cfg.Transport,
		flowName:   strings.ToLower(cfg.FlowNameContains),
		payloadKey: cfg.PayloadKey,
		success:    cfg.Success,
		failure:    cfg.Failure,
		policy:     cfg.Policy,
	}
}

// Execute triggers the workflow with value and returns the terminal response
// body on success.
func (e *Engine) Execute(ctx context.Context, value any) (json.RawMessage, error) {
	payload, err := payloadValue(value)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Executing workflow task",
		slog.String("payload_key", e.payloadKey),
		slog.String("value", truncate(payload)),
	)

	token, err := e.transport.Login(ctx)
	if err != nil {
		return nil, asTaskError(err)
	}

	flow, err := e.discover(ctx, token)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set(e.payloadKey, payload)

	resp, err := e.transport.Trigger(ctx, token, flow.URL, form)
	if err != nil {
		return nil, asTaskError(err)
	}

	target, result, err := e.handleTrigger(resp)
	if err != nil || result != nil {
		return result, err
	}

	e.logger.Info("Workflow triggered",
		slog.String("flow", flow.Summary),
		slog.String("status_url", target),
	)

	return e.poll(ctx, token, target)
}

func (e *Engine) discover(ctx context.Context, token string) (*Flow, error) {
	flows, err := e.transport.ListFlows(ctx, token)
	if err != nil {
		return nil, asTaskError(err)
	}

	for i := range flows {
		if strings.Contains(strings.ToLower(flows[i].Summary), e.flowName) {
			if flows[i].URL == "" {
				return nil, wrap(ErrDiscovery, "flow %q has no url", flows[i].Summary)
			}
			return &flows[i], nil
		}
	}

	return nil, wrap(ErrDiscovery, "no flow matching %q", e.flowName)
}

// handleTrigger returns either a poll target or an immediate result.
func (e *Engine) handleTrigger(resp *Response) (string, json.RawMessage, error) {
	if resp.IsRedirect() {
		location := resp.Header.Get("Location")
		if location == "" {
			return "", nil, wrap(ErrTrigger, "redirect status %d without Location header", resp.StatusCode)
		}
		return location, nil, nil
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices && resp.IsJSON() {
		if !gjson.ValidBytes(resp.Body) {
			return "", nil, wrap(ErrTrigger, "invalid JSON in trigger response")
		}

		status := statusOf(resp.Body)
		switch Classify(status, e.success, e.failure) {
		case Success:
			e.logger.Info("Workflow finished on trigger", slog.String("status", status))
			return "", json.RawMessage(resp.Body), nil
		case Error:
			return "", nil, wrap(ErrTask, "workflow failed immediately with status %q: %s", status, errorDetail(resp.Body))
		default:
			return "", nil, wrap(ErrTrigger, "no redirect and non-terminal status %q in trigger response", status)
		}
	}

	return "", nil, wrap(ErrTrigger, "unexpected trigger response status %d: %s", resp.StatusCode, resp.Body)
}

func (e *Engine) poll(ctx context.Context, token, target string) (json.RawMessage, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.policy.Bound())
	defer cancel()

	start := e.policy.clock().Now()
	for attempt := 1; ; attempt++ {
		if e.policy.Expired(start) {
			return nil, e.timeout(target)
		}

		resp, err := e.transport.Status(pollCtx, token, target)
		if err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return nil, e.timeout(target)
			}
			return nil, asTaskError(err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, wrap(ErrTask, "status endpoint returned %d: %s", resp.StatusCode, resp.Body)
		}
		if !gjson.ValidBytes(resp.Body) {
			return nil, wrap(ErrTask, "invalid JSON from status endpoint")
		}

		status := statusOf(resp.Body)
		outcome := Classify(status, e.success, e.failure)
		metrics.RecordWorkflowPoll(outcome.String())

		switch outcome {
		case Success:
			e.logger.Info("Workflow finished",
				slog.String("status", status),
				slog.Int("polls", attempt),
			)
			return json.RawMessage(resp.Body), nil
		case Error:
			detail := errorDetail(resp.Body)
			e.logger.Error("Workflow failed",
				slog.String("status", status),
				slog.String("detail", truncate(detail)),
			)
			return nil, wrap(ErrTask, "workflow failed with status %q: %s", status, detail)
		}

		e.logger.Debug("Workflow not terminal, waiting",
			slog.String("status", status),
			slog.Int("attempt", attempt),
			slog.Duration("interval", e.policy.Interval),
		)

		if err := e.policy.Wait(pollCtx); err != nil {
			if ctx.Err() == nil {
				return nil, e.timeout(target)
			}
			return nil, wrap(ErrTask, "polling canceled: %v", err)
		}
	}
}

func (e *Engine) timeout(target string) error {
	return fmt.Errorf("%w after %s for %s", ErrTimeout, e.policy.Timeout, target)
}

func statusOf(body []byte) string {
	return strings.ToLower(strings.TrimSpace(gjson.GetBytes(body, "status").String()))
}

func errorDetail(body []byte) string {
	detail := gjson.GetBytes(body, "error")
	if !detail.Exists() || detail.Type == gjson.Null {
		return "no error details provided"
	}
	return truncate(detail.String())
}

// payloadValue renders the primary input as a form value. Primitives keep
// their natural text form; anything else is JSON encoded.
func payloadValue(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", wrap(ErrTask, "missing primary input value")
	case string:
		return v, nil
	case bool, float64, float32, int, int64, int32, json.Number:
		return fmt.Sprint(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), nil
		}
		return string(data), nil
	}
}

// asTaskError classifies errors that carry no workflow kind as task errors.
func asTaskError(err error) error {
	for _, kind := range []error{ErrAuth, ErrDiscovery, ErrTrigger, ErrTimeout, ErrTask} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return wrap(ErrTask, "%v", err)
}
