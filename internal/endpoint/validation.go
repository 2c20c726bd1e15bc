package endpoint

import (
	"fmt"

	"github.com/example/campaignflow/internal/domain"
)

func validateKey(key domain.CheckpointKey) error {
	if key.RunID == "" {
		return fmt.Errorf("%w: run_id is required", domain.ErrInvalidArgument)
	}
	return nil
}

func validatePutRequest(req *PutRequest) error {
	if req.Record == nil {
		return fmt.Errorf("%w: record is required", domain.ErrInvalidArgument)
	}
	if err := validateKey(req.Record.Key); err != nil {
		return err
	}
	if req.Record.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: updated_at is required", domain.ErrInvalidArgument)
	}
	return nil
}

func validateListRequest(req *ListRequest) error {
	if req.Options.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", domain.ErrInvalidArgument)
	}
	if req.Options.Limit == 0 || req.Options.Limit > MaxPageSize {
		req.Options.Limit = MaxPageSize
	}
	return nil
}

func validateAppendWritesRequest(req *AppendWritesRequest) error {
	if req.Entry == nil {
		return fmt.Errorf("%w: entry is required", domain.ErrInvalidArgument)
	}
	if err := validateKey(req.Entry.Key); err != nil {
		return err
	}
	if req.Entry.TaskID == "" {
		return fmt.Errorf("%w: task_id is required", domain.ErrInvalidArgument)
	}
	for i, w := range req.Entry.Writes {
		if w.Channel == "" {
			return fmt.Errorf("%w: writes[%d]: channel is required", domain.ErrInvalidArgument, i)
		}
	}
	return nil
}
