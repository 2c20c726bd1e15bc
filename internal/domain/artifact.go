package domain

import (
	"encoding/json"
	"time"
)

// ArtifactType enumerates the kinds of output a phase can produce.
type ArtifactType string

const (
	ArtifactPerformanceSnapshot ArtifactType = "PERFORMANCE_SNAPSHOT"
	ArtifactContentCalendar     ArtifactType = "CONTENT_CALENDAR"
	ArtifactCampaignBrief       ArtifactType = "CAMPAIGN_BRIEF"
	ArtifactCopyPacket          ArtifactType = "COPY_PACKET"
	ArtifactDesignSpec          ArtifactType = "DESIGN_SPEC"
	ArtifactQAReport            ArtifactType = "QA_REPORT"
	ArtifactCampaignPackage     ArtifactType = "CAMPAIGN_PACKAGE"
)

// Valid reports whether t is one of the known artifact kinds.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactPerformanceSnapshot, ArtifactContentCalendar, ArtifactCampaignBrief,
		ArtifactCopyPacket, ArtifactDesignSpec, ArtifactQAReport, ArtifactCampaignPackage:
		return true
	default:
		return false
	}
}

// Provenance records where an artifact came from.
type Provenance struct {
	Phase      string    `json:"phase" msgpack:"phase"`
	ProducedAt time.Time `json:"produced_at" msgpack:"produced_at"`
	Model      string    `json:"model,omitempty" msgpack:"model,omitempty"`
}

// Artifact is a typed, immutable output of a phase. The payload is opaque
// to the engine.
type Artifact struct {
	ID         string          `json:"id" msgpack:"id"`
	Type       ArtifactType    `json:"type" msgpack:"type"`
	RunID      string          `json:"run_id" msgpack:"run_id"`
	Version    int             `json:"version" msgpack:"version"`
	Payload    json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Provenance Provenance      `json:"provenance" msgpack:"provenance"`
}

// NewArtifact creates an artifact produced by phase. The version is filled
// in when the artifact is added to a run.
func NewArtifact(id string, t ArtifactType, runID, phase, model string, payload json.RawMessage) *Artifact {
	return &Artifact{
		ID:      id,
		Type:    t,
		RunID:   runID,
		Payload: append(json.RawMessage(nil), payload...),
		Provenance: Provenance{
			Phase:      phase,
			ProducedAt: time.Now().UTC(),
			Model:      model,
		},
	}
}

// Decode unmarshals the payload into v.
func (a *Artifact) Decode(v any) error {
	return json.Unmarshal(a.Payload, v)
}
