package handler

import (
	"net/http"

	"github.com/cuongbtq/paidflow/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// InputSchema handles GET /input-schema
func (h *AgentHandler) InputSchema(c *gin.Context) {
	c.JSON(http.StatusOK, dto.InputSchemaResponse{
		InputData: h.schema.Fields(),
	})
}

// Availability handles GET /availability
func (h *AgentHandler) Availability(c *gin.Context) {
	c.JSON(http.StatusOK, dto.AvailabilityResponse{
		Status:          "available",
		Type:            "masumi-agent",
		AgentIdentifier: h.agent.AgentIdentifier,
		Message:         "Server operational.",
	})
}

// Health handles GET /health
func (h *AgentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
		"message": "Service operational.",
	})
}
