package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// CheckpointKey identifies one checkpoint record. Namespace and
// CheckpointID are optional.
type CheckpointKey struct {
	RunID        string `json:"run_id"`
	Namespace    string `json:"namespace,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// String renders the key as run/namespace/checkpoint for logs and
// storage backends that need a flat key.
func (k CheckpointKey) String() string {
	return strings.Join([]string{k.RunID, k.Namespace, k.CheckpointID}, "/")
}

// Validate checks that the key names a run.
func (k CheckpointKey) Validate() error {
	if k.RunID == "" {
		return ErrInvalidArgument
	}
	return nil
}

// CheckpointRecord is a durable snapshot of a serialized RunState.
type CheckpointRecord struct {
	Key       CheckpointKey     `json:"key"`
	State     []byte            `json:"state"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ChannelWrite is one intermediate value written by a task.
type ChannelWrite struct {
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// WriteLogEntry is an append-only audit of the writes a task performed.
type WriteLogEntry struct {
	Key       CheckpointKey  `json:"key"`
	TaskID    string         `json:"task_id"`
	Writes    []ChannelWrite `json:"writes"`
	CreatedAt time.Time      `json:"created_at"`
}

// HealthKey is the dedicated location probed by transport diagnostics.
var HealthKey = CheckpointKey{RunID: "__health__"}
