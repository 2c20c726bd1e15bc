package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/campaignflow/internal/domain"
)

type approvalRepo struct {
	client goredis.Cmdable
	keys   keys
}

func (r *approvalRepo) Save(ctx context.Context, req *domain.ApprovalRequest, archived bool) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.keys.approval(req.ID), data, 0)
	if archived {
		pipe.SRem(ctx, r.keys.approvalsActive(), req.ID)
		pipe.SAdd(ctx, r.keys.approvalsArchived(), req.ID)
	} else {
		pipe.SAdd(ctx, r.keys.approvalsActive(), req.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("campaignflow/redis: save approval: %w", err)
	}
	return nil
}

func (r *approvalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	data, err := r.client.Get(ctx, r.keys.approval(id)).Bytes()
	if err == goredis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaignflow/redis: get approval: %w", err)
	}

	req := &domain.ApprovalRequest{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *approvalRepo) ListActive(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	out, err := r.listSet(ctx, r.keys.approvalsActive())
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (r *approvalRepo) ListArchived(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	out, err := r.listSet(ctx, r.keys.approvalsArchived())
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DecidedAt, out[j].DecidedAt
		if di == nil || dj == nil || di.Equal(*dj) {
			return out[i].ID < out[j].ID
		}
		return di.Before(*dj)
	})
	return out, nil
}

func (r *approvalRepo) listSet(ctx context.Context, set string) ([]*domain.ApprovalRequest, error) {
	ids, err := r.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("campaignflow/redis: list approvals: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keys.approval(id))
	}
	// Missing members surface as redis.Nil on the individual commands.
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("campaignflow/redis: list approvals: %w", err)
	}

	out := make([]*domain.ApprovalRequest, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		req := &domain.ApprovalRequest{}
		if err := json.Unmarshal(data, req); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
