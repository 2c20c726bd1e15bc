package grpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
)

// Wire shapes, all carried as google.protobuf.Struct:
//
//	key     {run_id, namespace, checkpoint_id}
//	record  {key, state (base64), metadata {string: string}, updated_at (RFC 3339)}
//	entry   {key, task_id, writes [{channel, value (JSON text)}], created_at}
//	list    {run_id, namespace, before, after_updated_at, after_key, limit}

func str(s string) *structpb.Value { return structpb.NewStringValue(s) }

func obj(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrInvalidArgument, s)
	}
	return t, nil
}

func keyToValue(k domain.CheckpointKey) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"run_id":        str(k.RunID),
		"namespace":     str(k.Namespace),
		"checkpoint_id": str(k.CheckpointID),
	})
}

func keyFromStruct(s *structpb.Struct) domain.CheckpointKey {
	f := s.GetFields()
	return domain.CheckpointKey{
		RunID:        f["run_id"].GetStringValue(),
		Namespace:    f["namespace"].GetStringValue(),
		CheckpointID: f["checkpoint_id"].GetStringValue(),
	}
}

func keyMessage(k domain.CheckpointKey) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"key": keyToValue(k)}}
}

func recordToStruct(rec *domain.CheckpointRecord) *structpb.Struct {
	meta := make(map[string]*structpb.Value, len(rec.Metadata))
	for k, v := range rec.Metadata {
		meta[k] = str(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":        keyToValue(rec.Key),
		"state":      str(base64.StdEncoding.EncodeToString(rec.State)),
		"metadata":   obj(meta),
		"updated_at": str(formatTime(rec.UpdatedAt)),
	}}
}

func recordFromStruct(s *structpb.Struct) (*domain.CheckpointRecord, error) {
	f := s.GetFields()
	state, err := base64.StdEncoding.DecodeString(f["state"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: bad state encoding", domain.ErrInvalidArgument)
	}
	updatedAt, err := parseTime(f["updated_at"].GetStringValue())
	if err != nil {
		return nil, err
	}

	rec := &domain.CheckpointRecord{
		Key:       keyFromStruct(f["key"].GetStructValue()),
		UpdatedAt: updatedAt,
	}
	if len(state) > 0 {
		rec.State = state
	}
	if meta := f["metadata"].GetStructValue().GetFields(); len(meta) > 0 {
		rec.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			rec.Metadata[k] = v.GetStringValue()
		}
	}
	return rec, nil
}

func recordsToStruct(recs []*domain.CheckpointRecord) *structpb.Struct {
	vals := make([]*structpb.Value, len(recs))
	for i, r := range recs {
		vals[i] = structpb.NewStructValue(recordToStruct(r))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"records": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

func recordsFromStruct(s *structpb.Struct) ([]*domain.CheckpointRecord, error) {
	vals := s.GetFields()["records"].GetListValue().GetValues()
	out := make([]*domain.CheckpointRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := recordFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func entryToStruct(e *domain.WriteLogEntry) *structpb.Struct {
	writes := make([]*structpb.Value, len(e.Writes))
	for i, w := range e.Writes {
		writes[i] = obj(map[string]*structpb.Value{
			"channel": str(w.Channel),
			"value":   str(string(w.Value)),
		})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":        keyToValue(e.Key),
		"task_id":    str(e.TaskID),
		"writes":     structpb.NewListValue(&structpb.ListValue{Values: writes}),
		"created_at": str(formatTime(e.CreatedAt)),
	}}
}

func entryFromStruct(s *structpb.Struct) (*domain.WriteLogEntry, error) {
	f := s.GetFields()
	createdAt, err := parseTime(f["created_at"].GetStringValue())
	if err != nil {
		return nil, err
	}

	e := &domain.WriteLogEntry{
		Key:       keyFromStruct(f["key"].GetStructValue()),
		TaskID:    f["task_id"].GetStringValue(),
		CreatedAt: createdAt,
	}
	for _, v := range f["writes"].GetListValue().GetValues() {
		wf := v.GetStructValue().GetFields()
		w := domain.ChannelWrite{Channel: wf["channel"].GetStringValue()}
		if raw := wf["value"].GetStringValue(); raw != "" {
			if !json.Valid([]byte(raw)) {
				return nil, fmt.Errorf("%w: write value on %q is not JSON", domain.ErrInvalidArgument, w.Channel)
			}
			w.Value = json.RawMessage(raw)
		}
		e.Writes = append(e.Writes, w)
	}
	return e, nil
}

func entriesToStruct(entries []*domain.WriteLogEntry) *structpb.Struct {
	vals := make([]*structpb.Value, len(entries))
	for i, e := range entries {
		vals[i] = structpb.NewStructValue(entryToStruct(e))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"entries": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

func entriesFromStruct(s *structpb.Struct) ([]*domain.WriteLogEntry, error) {
	vals := s.GetFields()["entries"].GetListValue().GetValues()
	out := make([]*domain.WriteLogEntry, 0, len(vals))
	for _, v := range vals {
		e, err := entryFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func listOptionsToStruct(opts storage.ListOptions) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"run_id":    str(opts.RunID),
		"namespace": str(opts.Namespace),
		"before":    str(formatTime(opts.Before)),
		"limit":     structpb.NewNumberValue(float64(opts.Limit)),
	}
	if opts.After != nil {
		fields["after_updated_at"] = str(formatTime(opts.After.UpdatedAt))
		fields["after_key"] = str(opts.After.Key)
	}
	return &structpb.Struct{Fields: fields}
}

func listOptionsFromStruct(s *structpb.Struct) (storage.ListOptions, error) {
	f := s.GetFields()
	before, err := parseTime(f["before"].GetStringValue())
	if err != nil {
		return storage.ListOptions{}, err
	}

	opts := storage.ListOptions{
		RunID:     f["run_id"].GetStringValue(),
		Namespace: f["namespace"].GetStringValue(),
		Before:    before,
		Limit:     int(f["limit"].GetNumberValue()),
	}
	if at := f["after_updated_at"].GetStringValue(); at != "" {
		t, err := parseTime(at)
		if err != nil {
			return storage.ListOptions{}, err
		}
		opts.After = &storage.Cursor{UpdatedAt: t, Key: f["after_key"].GetStringValue()}
	}
	return opts, nil
}
