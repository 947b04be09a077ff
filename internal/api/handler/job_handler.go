package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/paidflow/internal/api/dto"
	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/cuongbtq/paidflow/internal/orchestrator"
	"github.com/cuongbtq/paidflow/internal/registry"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /jobs
// Validates the input, opens a payment request and registers the job
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid request body",
		})
		return
	}

	sub, err := h.jobs.Submit(c.Request.Context(), req.PurchaserID, req.Input)
	if err != nil {
		h.writeSubmitError(c, req.PurchaserID, err)
		return
	}

	job := sub.Job
	c.JSON(http.StatusOK, dto.CreateJobResponse{
		Status:                    "success",
		JobID:                     job.ID,
		PaymentReference:          job.PaymentReference,
		PayByTime:                 job.PaymentWindow.PayByTime,
		SubmitResultTime:          job.PaymentWindow.SubmitResultTime,
		UnlockTime:                job.PaymentWindow.UnlockTime,
		ExternalDisputeUnlockTime: job.PaymentWindow.ExternalDisputeUnlockTime,
		AgentIdentifier:           h.agent.AgentIdentifier,
		SellerVKey:                h.agent.SellerVKey,
		IdentifierFromPurchaser:   job.PurchaserID,
		InputHash:                 job.InputHash,
		Amounts: []dto.Amount{
			{Amount: h.agent.Amount, Unit: h.agent.Unit},
		},
	})
}

func (h *JobHandler) writeSubmitError(c *gin.Context, purchaserID string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		h.logger.Info("Job input rejected",
			slog.String("purchaser_id", purchaserID),
			slog.String("error", verr.Error()),
		)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "Invalid input data",
			Fields: verr.Fields,
		})

	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error: "Service is shutting down",
		})

	case errors.Is(err, domain.ErrPaymentRequest):
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "Failed to create payment request",
		})

	default:
		h.logger.Error("Failed to create job",
			slog.String("purchaser_id", purchaserID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "Failed to create job",
		})
	}
}

// GetJobStatus handles GET /jobs/:job_id/status
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	h.writeStatus(c, c.Param("job_id"))
}

// GetStatus handles GET /status?job_id=
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "job_id is required",
		})
		return
	}
	h.writeStatus(c, jobID)
}

func (h *JobHandler) writeStatus(c *gin.Context, jobID string) {
	job, err := h.jobs.Lookup(jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, h.projector.Project(job))
}

// ListJobs handles GET /jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid cursor",
		})
		return
	}

	jobs := h.jobs.List(registry.Filter{
		PurchaserID: req.PurchaserID,
		State:       domain.State(req.State),
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.JobDTO{
			JobID:            job.ID,
			State:            string(job.State),
			PaymentState:     string(job.PaymentState),
			PurchaserID:      job.PurchaserID,
			PaymentReference: job.PaymentReference,
			Message:          job.Message,
			CreatedAt:        job.CreatedAt.Format(time.RFC3339),
			UpdatedAt:        job.UpdatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&registry.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
