package rest

import (
	"github.com/example/campaignflow/internal/domain"
)

// ListCheckpointsResponse is the response for GET /v1/checkpoints.
type ListCheckpointsResponse struct {
	Records []*domain.CheckpointRecord `json:"records"`
}

// ListWritesResponse is the response for GET /v1/checkpoints/{run_id}/writes.
type ListWritesResponse struct {
	Entries []*domain.WriteLogEntry `json:"entries"`
}

// ListRunsResponse is the response for GET /api/runs.
type ListRunsResponse struct {
	Runs []domain.RunSummary `json:"runs"`
}

// ListApprovalsResponse is the response for GET /api/approvals.
type ListApprovalsResponse struct {
	Approvals []*domain.ApprovalRequest `json:"approvals"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Query parameters of the checkpoint routes.
const (
	paramNamespace      = "namespace"
	paramCheckpointID   = "checkpoint_id"
	paramRunID          = "run_id"
	paramBefore         = "before"
	paramAfterUpdatedAt = "after_updated_at"
	paramAfterKey       = "after_key"
	paramLimit          = "limit"
	paramRole           = "role"
)
