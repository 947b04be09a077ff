package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/cuongbtq/paidflow/internal/orchestrator"
	"github.com/cuongbtq/paidflow/internal/registry"
	"github.com/cuongbtq/paidflow/internal/schema"
	"github.com/cuongbtq/paidflow/internal/status"
)

// JobService is the orchestrator as seen by the HTTP layer
type JobService interface {
	Submit(ctx context.Context, purchaserID string, input map[string]any) (*orchestrator.Submission, error)
	Lookup(id string) (domain.Job, error)
	List(filter registry.Filter) []domain.Job
}

// AgentInfo is the static seller information echoed to purchasers
type AgentInfo struct {
	AgentIdentifier string
	SellerVKey      string
	Amount          int64
	Unit            string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	Projector   *status.Projector
	Schema      *schema.Schema
	Agent       AgentInfo
	ServiceName string
	MetricsPath string // empty disables the metrics endpoint
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	jobs      JobService
	projector *status.Projector
	agent     AgentInfo
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		projector: deps.Projector,
		agent:     deps.Agent,
	}
}

// AgentHandler serves the static discovery endpoints
type AgentHandler struct {
	schema      *schema.Schema
	agent       AgentInfo
	serviceName string
}

// NewAgentHandler creates a new AgentHandler instance
func NewAgentHandler(deps *Dependencies) *AgentHandler {
	return &AgentHandler{
		schema:      deps.Schema,
		agent:       deps.Agent,
		serviceName: deps.ServiceName,
	}
}
