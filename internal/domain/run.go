package domain

import (
	"fmt"
	"time"
)

// RunStatus describes the lifecycle status of a run.
type RunStatus int

const (
	RunStatusUnknown   RunStatus = 0
	RunStatusRunning   RunStatus = 10 // Executing phases
	RunStatusPaused    RunStatus = 20 // Waiting on an approval
	RunStatusCompleted RunStatus = 30 // Reached the terminal marker
	RunStatusFailed    RunStatus = 40 // Stopped by an unrecoverable error
)

func (s RunStatus) String() string {
	switch s {
	case RunStatusRunning:
		return "RUNNING"
	case RunStatusPaused:
		return "PAUSED"
	case RunStatusCompleted:
		return "COMPLETED"
	case RunStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the run will not execute further phases.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunError is the error recorded on a failed run.
type RunError struct {
	Phase   string    `json:"phase" msgpack:"phase"`
	Step    int       `json:"step" msgpack:"step"`
	Message string    `json:"message" msgpack:"message"`
	At      time.Time `json:"at" msgpack:"at"`
}

// GateRequest is set by a phase that wants a human decision before the run
// continues. The engine consumes it and opens an approval request.
type GateRequest struct {
	ArtifactType ArtifactType  `json:"artifact_type" msgpack:"artifact_type"`
	ApproverRole string        `json:"approver_role" msgpack:"approver_role"`
	Timeout      time.Duration `json:"timeout" msgpack:"timeout"`
}

// PhaseRecord is one entry of the per-run execution history.
type PhaseRecord struct {
	Step      int           `json:"step" msgpack:"step"`
	Phase     string        `json:"phase" msgpack:"phase"`
	StartedAt time.Time     `json:"started_at" msgpack:"started_at"`
	Duration  time.Duration `json:"duration" msgpack:"duration"`
	Outcome   string        `json:"outcome" msgpack:"outcome"`
}

// RunState is the full execution context of one workflow instance.
type RunState struct {
	RunID    string            `json:"run_id" msgpack:"run_id"`
	TenantID string            `json:"tenant_id" msgpack:"tenant_id"`
	BrandID  string            `json:"brand_id" msgpack:"brand_id"`
	Params   map[string]string `json:"params" msgpack:"params"`

	CurrentPhase string    `json:"current_phase" msgpack:"current_phase"`
	Stage        string    `json:"stage,omitempty" msgpack:"stage,omitempty"`
	Status       RunStatus `json:"status" msgpack:"status"`
	Step         int       `json:"step" msgpack:"step"`

	// Artifacts keyed by type; ArtifactOrder keeps first-insertion order.
	ArtifactOrder       []ArtifactType             `json:"artifact_order,omitempty" msgpack:"artifact_order,omitempty"`
	Artifacts           map[ArtifactType]*Artifact `json:"artifacts" msgpack:"artifacts"`
	SupersededArtifacts []*Artifact                `json:"superseded_artifacts,omitempty" msgpack:"superseded_artifacts,omitempty"`

	RevisionCount  int             `json:"revision_count" msgpack:"revision_count"`
	MaxRevisions   int             `json:"max_revisions" msgpack:"max_revisions"`
	RevisionTarget string          `json:"revision_target,omitempty" msgpack:"revision_target,omitempty"`
	Feedback       []string        `json:"feedback,omitempty" msgpack:"feedback,omitempty"`
	QAResult       *QAResult       `json:"qa_result,omitempty" msgpack:"qa_result,omitempty"`
	ForcedOverride *ForcedOverride `json:"forced_override,omitempty" msgpack:"forced_override,omitempty"`

	PendingApproval *ApprovalRef       `json:"pending_approval,omitempty" msgpack:"pending_approval,omitempty"`
	ApprovalHistory []*ApprovalRequest `json:"approval_history,omitempty" msgpack:"approval_history,omitempty"`
	GateRequest     *GateRequest       `json:"gate_request,omitempty" msgpack:"gate_request,omitempty"`

	PhaseHistory []PhaseRecord `json:"phase_history,omitempty" msgpack:"phase_history,omitempty"`
	Error        *RunError     `json:"error,omitempty" msgpack:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" msgpack:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
}

// NewRunState creates a fresh run positioned before its entry phase.
func NewRunState(runID, tenantID, brandID string, params map[string]string, maxRevisions int) *RunState {
	now := time.Now().UTC()
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &RunState{
		RunID:        runID,
		TenantID:     tenantID,
		BrandID:      brandID,
		Params:       p,
		Status:       RunStatusRunning,
		Artifacts:    make(map[ArtifactType]*Artifact),
		MaxRevisions: maxRevisions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Artifact returns the current artifact of type t, or nil.
func (s *RunState) Artifact(t ArtifactType) *Artifact {
	return s.Artifacts[t]
}

// ArtifactList returns current artifacts in insertion order.
func (s *RunState) ArtifactList() []*Artifact {
	out := make([]*Artifact, 0, len(s.ArtifactOrder))
	for _, t := range s.ArtifactOrder {
		if a, ok := s.Artifacts[t]; ok {
			out = append(out, a)
		}
	}
	return out
}

// PutArtifact adds a new artifact. An existing artifact of the same type is
// moved to SupersededArtifacts untouched and the new one gets the next
// version.
func (s *RunState) PutArtifact(a *Artifact) {
	if s.Artifacts == nil {
		s.Artifacts = make(map[ArtifactType]*Artifact)
	}
	a.Version = 1
	if prev, ok := s.Artifacts[a.Type]; ok {
		s.SupersededArtifacts = append(s.SupersededArtifacts, prev)
		a.Version = prev.Version + 1
	} else {
		s.ArtifactOrder = append(s.ArtifactOrder, a.Type)
	}
	if a.RunID == "" {
		a.RunID = s.RunID
	}
	s.Artifacts[a.Type] = a
}

// RequestApproval asks the engine to open a gate on the current artifact
// of type t once the running phase returns.
func (s *RunState) RequestApproval(t ArtifactType, role string, timeout time.Duration) error {
	if s.PendingApproval != nil || s.GateRequest != nil {
		return ErrPendingApproval
	}
	if _, ok := s.Artifacts[t]; !ok {
		return fmt.Errorf("%w: no %s artifact to approve", ErrInvalidArgument, t)
	}
	s.GateRequest = &GateRequest{ArtifactType: t, ApproverRole: role, Timeout: timeout}
	return nil
}

// LastApproval returns the most recently archived decision, or nil.
func (s *RunState) LastApproval() *ApprovalRequest {
	if len(s.ApprovalHistory) == 0 {
		return nil
	}
	return s.ApprovalHistory[len(s.ApprovalHistory)-1]
}

// Touch bumps UpdatedAt.
func (s *RunState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Fail marks the run failed with err at phase.
func (s *RunState) Fail(phase string, err error) {
	now := time.Now().UTC()
	s.Status = RunStatusFailed
	s.Error = &RunError{Phase: phase, Step: s.Step, Message: err.Error(), At: now}
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Complete marks the run completed.
func (s *RunState) Complete() {
	now := time.Now().UTC()
	s.Status = RunStatusCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Params != nil {
		c.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			c.Params[k] = v
		}
	}
	if s.ArtifactOrder != nil {
		c.ArtifactOrder = append([]ArtifactType(nil), s.ArtifactOrder...)
	}
	if s.Artifacts != nil {
		c.Artifacts = make(map[ArtifactType]*Artifact, len(s.Artifacts))
		for k, v := range s.Artifacts {
			c.Artifacts[k] = cloneArtifact(v)
		}
	}
	if s.SupersededArtifacts != nil {
		c.SupersededArtifacts = make([]*Artifact, len(s.SupersededArtifacts))
		for i, a := range s.SupersededArtifacts {
			c.SupersededArtifacts[i] = cloneArtifact(a)
		}
	}
	c.Feedback = cloneStrings(s.Feedback)
	c.QAResult = s.QAResult.Clone()
	if s.ForcedOverride != nil {
		fo := *s.ForcedOverride
		c.ForcedOverride = &fo
	}
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		c.PendingApproval = &pa
	}
	if s.ApprovalHistory != nil {
		c.ApprovalHistory = make([]*ApprovalRequest, len(s.ApprovalHistory))
		for i, r := range s.ApprovalHistory {
			c.ApprovalHistory[i] = r.Clone()
		}
	}
	if s.GateRequest != nil {
		g := *s.GateRequest
		c.GateRequest = &g
	}
	if s.PhaseHistory != nil {
		c.PhaseHistory = append([]PhaseRecord(nil), s.PhaseHistory...)
	}
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneArtifact(a *Artifact) *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	if a.Payload != nil {
		c.Payload = append([]byte(nil), a.Payload...)
	}
	return &c
}

// RunSummary is the listing view of a run.
type RunSummary struct {
	RunID           string       `json:"run_id"`
	TenantID        string       `json:"tenant_id"`
	BrandID         string       `json:"brand_id"`
	Status          RunStatus    `json:"status"`
	CurrentPhase    string       `json:"current_phase"`
	Step            int          `json:"step"`
	RevisionCount   int          `json:"revision_count"`
	PendingApproval *ApprovalRef `json:"pending_approval,omitempty"`
	Error           string       `json:"error,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Summary returns the listing view of s.
func (s *RunState) Summary() RunSummary {
	sum := RunSummary{
		RunID:         s.RunID,
		TenantID:      s.TenantID,
		BrandID:       s.BrandID,
		Status:        s.Status,
		CurrentPhase:  s.CurrentPhase,
		Step:          s.Step,
		RevisionCount: s.RevisionCount,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		sum.PendingApproval = &pa
	}
	if s.Error != nil {
		sum.Error = s.Error.Message
	}
	return sum
}
