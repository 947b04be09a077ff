package router

import (
	"github.com/cuongbtq/paidflow/internal/api/handler"
	"github.com/cuongbtq/paidflow/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(metrics.GinMiddleware())

	agentHandler := handler.NewAgentHandler(deps)
	r.GET("/health", agentHandler.Health)
	r.GET("/availability", agentHandler.Availability)
	r.GET("/input-schema", agentHandler.InputSchema)

	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	jobHandler := handler.NewJobHandler(deps)

	jobs := r.Group("/jobs")
	{
		// POST /jobs - Submit a job and open its payment request
		jobs.POST("", jobHandler.CreateJob)

		// GET /jobs - List jobs with filtering and pagination
		jobs.GET("", jobHandler.ListJobs)

		// GET /jobs/:job_id/status - Poll a job's status
		jobs.GET("/:job_id/status", jobHandler.GetJobStatus)
	}

	// GET /status?job_id= - Query-string form of the status endpoint
	r.GET("/status", jobHandler.GetStatus)

	return r
}
