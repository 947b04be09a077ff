package dto

import (
	"github.com/cuongbtq/paidflow/internal/domain"
	"github.com/cuongbtq/paidflow/internal/schema"
)

type CreateJobRequest struct {
	PurchaserID string         `json:"purchaserId" binding:"required"`
	Input       map[string]any `json:"input"`
}

type Amount struct {
	Amount int64  `json:"amount"`
	Unit   string `json:"unit"`
}

type CreateJobResponse struct {
	Status                    string   `json:"status"`
	JobID                     string   `json:"jobId"`
	PaymentReference          string   `json:"paymentReference"`
	PayByTime                 string   `json:"payByTime"`
	SubmitResultTime          string   `json:"submitResultTime"`
	UnlockTime                string   `json:"unlockTime"`
	ExternalDisputeUnlockTime string   `json:"externalDisputeUnlockTime"`
	AgentIdentifier           string   `json:"agentIdentifier"`
	SellerVKey                string   `json:"sellerVkey"`
	IdentifierFromPurchaser   string   `json:"identifierFromPurchaser"`
	InputHash                 string   `json:"inputHash"`
	Amounts                   []Amount `json:"amounts"`
}

type ErrorResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

type ListJobsRequest struct {
	PurchaserID string `form:"purchaserId"`
	State       string `form:"state" binding:"omitempty,oneof=awaiting_payment running completed failed"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID            string `json:"jobId"`
	State            string `json:"state"`
	PaymentState     string `json:"paymentState"`
	PurchaserID      string `json:"purchaserId"`
	PaymentReference string `json:"paymentReference"`
	Message          string `json:"message"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

type InputSchemaResponse struct {
	InputData []schema.Field `json:"input_data"`
}

type AvailabilityResponse struct {
	Status          string `json:"status"`
	Type            string `json:"type"`
	AgentIdentifier string `json:"agentIdentifier"`
	Message         string `json:"message"`
}
