package domain

import (
	"encoding/json"
	"time"
)

// ApprovalStatus describes where an approval request is in its lifecycle.
type ApprovalStatus int

const (
	ApprovalStatusUnknown           ApprovalStatus = 0
	ApprovalStatusPending           ApprovalStatus = 10
	ApprovalStatusApproved          ApprovalStatus = 20
	ApprovalStatusApprovedWithFixes ApprovalStatus = 30
	ApprovalStatusRejected          ApprovalStatus = 40
)

func (s ApprovalStatus) String() string {
	switch s {
	case ApprovalStatusPending:
		return "PENDING"
	case ApprovalStatusApproved:
		return "APPROVED"
	case ApprovalStatusApprovedWithFixes:
		return "APPROVED_WITH_FIXES"
	case ApprovalStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseApprovalStatus is the inverse of String.
func ParseApprovalStatus(s string) ApprovalStatus {
	switch s {
	case "PENDING":
		return ApprovalStatusPending
	case "APPROVED":
		return ApprovalStatusApproved
	case "APPROVED_WITH_FIXES":
		return ApprovalStatusApprovedWithFixes
	case "REJECTED":
		return ApprovalStatusRejected
	default:
		return ApprovalStatusUnknown
	}
}

// IsDecided returns true once the request has left PENDING.
func (s ApprovalStatus) IsDecided() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusApprovedWithFixes || s == ApprovalStatusRejected
}

// IsApproval returns true for either approving outcome.
func (s ApprovalStatus) IsApproval() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusApprovedWithFixes
}

// SystemApprover is recorded as DecidedBy for automatic decisions.
const SystemApprover = "system"

// TimedOutNote is the decision note written on auto-rejected requests.
const TimedOutNote = "timed out"

// SupersededNote is the decision note written when a run reopens its gate
// on a different artifact.
const SupersededNote = "superseded"

// ApprovalRequest is a human-in-the-loop gate on one artifact.
type ApprovalRequest struct {
	ID           string          `json:"id" msgpack:"id"`
	RunID        string          `json:"run_id" msgpack:"run_id"`
	ArtifactType ArtifactType    `json:"artifact_type" msgpack:"artifact_type"`
	ArtifactID   string          `json:"artifact_id" msgpack:"artifact_id"`
	ArtifactData json.RawMessage `json:"artifact_data,omitempty" msgpack:"artifact_data,omitempty"`
	ApproverRole string          `json:"approver_role" msgpack:"approver_role"`
	RequestedAt  time.Time       `json:"requested_at" msgpack:"requested_at"`
	Timeout      time.Duration   `json:"timeout" msgpack:"timeout"`
	ExpiresAt    time.Time       `json:"expires_at" msgpack:"expires_at"`
	Status       ApprovalStatus  `json:"status" msgpack:"status"`
	Notes        string          `json:"notes,omitempty" msgpack:"notes,omitempty"`
	DecidedBy    string          `json:"decided_by,omitempty" msgpack:"decided_by,omitempty"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty" msgpack:"decided_at,omitempty"`
}

// NewApprovalRequest creates a pending request expiring timeout after now.
func NewApprovalRequest(id, runID string, artifactType ArtifactType, artifactID string, data json.RawMessage, role string, timeout time.Duration, now time.Time) *ApprovalRequest {
	now = now.UTC()
	return &ApprovalRequest{
		ID:           id,
		RunID:        runID,
		ArtifactType: artifactType,
		ArtifactID:   artifactID,
		ArtifactData: append(json.RawMessage(nil), data...),
		ApproverRole: role,
		RequestedAt:  now,
		Timeout:      timeout,
		ExpiresAt:    now.Add(timeout),
		Status:       ApprovalStatusPending,
	}
}

// IsExpired is true iff now is strictly after RequestedAt + Timeout.
func (r *ApprovalRequest) IsExpired(now time.Time) bool {
	return now.After(r.RequestedAt.Add(r.Timeout))
}

// Decide records the single permitted transition out of PENDING.
func (r *ApprovalRequest) Decide(status ApprovalStatus, by, notes string, at time.Time) error {
	if r.Status != ApprovalStatusPending {
		return ErrApprovalNotPending
	}
	if !status.IsDecided() {
		return ErrInvalidState
	}
	at = at.UTC()
	r.Status = status
	r.DecidedBy = by
	r.Notes = notes
	r.DecidedAt = &at
	return nil
}

// Clone returns a deep copy.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.ArtifactData = append(json.RawMessage(nil), r.ArtifactData...)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// ApprovalRef is the pending-approval pointer held on a run.
type ApprovalRef struct {
	RequestID    string       `json:"request_id" msgpack:"request_id"`
	Phase        string       `json:"phase" msgpack:"phase"`
	ArtifactType ArtifactType `json:"artifact_type" msgpack:"artifact_type"`
	ExpiresAt    time.Time    `json:"expires_at" msgpack:"expires_at"`
}
