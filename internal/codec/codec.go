// Package codec serializes RunState snapshots for checkpoint records.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/example/campaignflow/internal/domain"
)

// Codec defines the serialization contract for run snapshots.
type Codec interface {
	// Encode serializes a run state to bytes.
	Encode(s *domain.RunState) ([]byte, error)

	// Decode deserializes bytes into a run state.
	Decode(data []byte) (*domain.RunState, error)

	// Name returns the codec identifier stored in checkpoint metadata.
	Name() string
}

// Codec names, recorded under MetadataKey on every checkpoint.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"

	MetadataKey = "codec"
)

// Get returns a codec by name. Empty selects JSON.
func Get(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSONCodec{}, nil
	case NameMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", domain.ErrInvalidArgument, name)
	}
}

// ForRecord picks the codec named in a record's metadata, falling back to
// def for records written without one.
func ForRecord(rec *domain.CheckpointRecord, def Codec) (Codec, error) {
	if name, ok := rec.Metadata[MetadataKey]; ok {
		return Get(name)
	}
	return def, nil
}

// JSONCodec encodes run states as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(s *domain.RunState) ([]byte, error) {
	return json.Marshal(s)
}

func (JSONCodec) Decode(data []byte) (*domain.RunState, error) {
	var s domain.RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (JSONCodec) Name() string { return NameJSON }

// MsgpackCodec encodes run states as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(s *domain.RunState) ([]byte, error) {
	return msgpack.Marshal(s)
}

func (MsgpackCodec) Decode(data []byte) (*domain.RunState, error) {
	var s domain.RunState
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (MsgpackCodec) Name() string { return NameMsgpack }
