// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paidflow"

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	JobsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total jobs created.",
		},
	)
	JobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Total job state transitions by target state.",
		},
		[]string{"state"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "task_duration_seconds",
			Help:      "Workflow task duration from confirmation to terminal state.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"result"},
	)

	WorkflowPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "polls_total",
			Help:      "Workflow status polls by classified outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(appInfo, httpRequestsTotal, httpRequestDuration,
		JobsCreated, JobTransitions, taskDuration, WorkflowPolls)
}

// SetAppInfo publishes the running service name and version.
func SetAppInfo(service, version string) {
	if version == "" {
		version = "dev"
	}
	appInfo.WithLabelValues(service, version).Set(1)
}

// GinMiddleware records request count and latency. The route label is the
// registered pattern, so job ids do not leak into label values.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func RecordJobCreated() {
	JobsCreated.Inc()
}

func RecordTransition(state string) {
	JobTransitions.WithLabelValues(state).Inc()
}

func RecordTask(start time.Time, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	taskDuration.WithLabelValues(res).Observe(time.Since(start).Seconds())
}

func RecordWorkflowPoll(outcome string) {
	WorkflowPolls.WithLabelValues(outcome).Inc()
}
