// Package status turns job records into the externally visible status payload.
package status

import (
	"log/slog"

	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/tidwall/gjson"
)

// DefaultResultPath locates the answer inside a finished workflow response.
const DefaultResultPath = "final.CrewOutput.raw"

// View is the status payload returned to clients.
type View struct {
	JobID   string       `json:"jobId"`
	State   domain.State `json:"state"`
	Message string       `json:"message"`
	Result  *string      `json:"result"`
}

// Projector extracts the result value from raw workflow output.
type Projector struct {
	resultPath string
	logger     *slog.Logger
}

// NewProjector creates a projector reading results at resultPath (gjson syntax).
func NewProjector(resultPath string, logger *slog.Logger) *Projector {
	if resultPath == "" {
		resultPath = DefaultResultPath
	}
	return &Projector{resultPath: resultPath, logger: logger}
}

// Project builds the view of job. The job is passed by value and never mutated.
func (p *Projector) Project(job domain.Job) View {
	view := View{
		JobID:   job.ID,
		State:   job.State,
		Message: job.Message,
	}

	if job.State == domain.StateCompleted {
		view.Result = p.extract(job)
	}

	return view
}

func (p *Projector) extract(job domain.Job) *string {
	res := gjson.GetBytes(job.RawTaskResult, p.resultPath)

	switch {
	case !res.Exists() || res.Type == gjson.Null:
		p.logger.Warn("Result value absent from task output",
			slog.String("job_id", job.ID),
			slog.String("path", p.resultPath),
		)
		return nil
	case res.Type == gjson.String:
		s := res.Str
		return &s
	default:
		// lenient: numbers, booleans and nested values are rendered as text
		s := res.String()
		p.logger.Warn("Result value is not a string, coercing",
			slog.String("job_id", job.ID),
			slog.String("path", p.resultPath),
			slog.String("type", res.Type.String()),
		)
		return &s
	}
}
