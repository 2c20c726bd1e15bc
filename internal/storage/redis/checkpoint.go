package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
)

type checkpointRepo struct {
	client goredis.Cmdable
	keys   keys
	logger *zap.Logger
}

func (r *checkpointRepo) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	vals, err := r.client.HGetAll(ctx, r.keys.checkpoint(key.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("campaignflow/redis: get checkpoint: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}
	return mapToRecord(vals)
}

func (r *checkpointRepo) Put(ctx context.Context, rec *domain.CheckpointRecord) error {
	flat := rec.Key.String()
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.keys.checkpoint(flat), map[string]any{
		"run_id":        rec.Key.RunID,
		"namespace":     rec.Key.Namespace,
		"checkpoint_id": rec.Key.CheckpointID,
		"state":         rec.State,
		"metadata":      string(metadataJSON),
		"updated_at":    strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10),
	})
	// Sorted-set scores are float64, so the index uses microseconds and
	// exact ordering is re-applied from the hash on read.
	pipe.ZAdd(ctx, r.keys.checkpointIndex(), goredis.Z{
		Score:  float64(rec.UpdatedAt.UnixMicro()),
		Member: flat,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("campaignflow/redis: put checkpoint: %w", err)
	}
	return nil
}

// listSlack is read past a limited page to absorb index entries that the
// filters drop.
const listSlack = 16

// List reads the score index newest first in bounded batches. A batch that
// leaves the page short, or ends inside the microsecond bucket of the last
// kept record, is followed by a wider one.
func (r *checkpointRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.CheckpointRecord, error) {
	maxScore := "+inf"
	if opts.After != nil {
		maxScore = strconv.FormatInt(opts.After.UpdatedAt.UnixMicro(), 10)
	}
	if !opts.Before.IsZero() {
		before := strconv.FormatInt(opts.Before.UnixMicro(), 10)
		if maxScore == "+inf" || opts.Before.UnixMicro() < opts.After.UpdatedAt.UnixMicro() {
			maxScore = before
		}
	}

	var (
		out    []*domain.CheckpointRecord
		scores []float64
		offset int64
		count  = int64(opts.Limit + listSlack)
	)
	for {
		rng := &goredis.ZRangeBy{Min: "-inf", Max: maxScore}
		if opts.Limit > 0 {
			rng.Offset, rng.Count = offset, count
		}
		members, err := r.client.ZRevRangeByScoreWithScores(ctx, r.keys.checkpointIndex(), rng).Result()
		if err != nil {
			return nil, fmt.Errorf("campaignflow/redis: list checkpoints: %w", err)
		}
		recs, recScores, err := r.load(ctx, members, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		scores = append(scores, recScores...)

		if opts.Limit <= 0 || int64(len(members)) < count {
			break
		}
		if len(out) >= opts.Limit && members[len(members)-1].Score < scores[opts.Limit-1] {
			break
		}
		offset += count
		count *= 2
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key.String() > out[j].Key.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// load fetches the hashes behind index members and keeps the ones opts
// selects, with their index scores.
func (r *checkpointRepo) load(ctx context.Context, members []goredis.Z, opts storage.ListOptions) ([]*domain.CheckpointRecord, []float64, error) {
	if len(members) == 0 {
		return nil, nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, r.keys.checkpoint(memberKey(m)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("campaignflow/redis: list checkpoints: %w", err)
	}

	var (
		out    []*domain.CheckpointRecord
		scores []float64
	)
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			r.logger.Debug("dangling checkpoint index entry", zap.String("key", memberKey(members[i])))
			continue
		}
		rec, err := mapToRecord(vals)
		if err != nil {
			return nil, nil, err
		}
		if opts.RunID != "" && rec.Key.RunID != opts.RunID {
			continue
		}
		if opts.Namespace != "" && rec.Key.Namespace != opts.Namespace {
			continue
		}
		if !opts.Before.IsZero() && !rec.UpdatedAt.Before(opts.Before) {
			continue
		}
		if !opts.After.Less(rec.UpdatedAt, rec.Key.String()) {
			continue
		}
		out = append(out, rec)
		scores = append(scores, members[i].Score)
	}
	return out, scores, nil
}

func memberKey(z goredis.Z) string {
	s, _ := z.Member.(string)
	return s
}

func (r *checkpointRepo) AppendWrites(ctx context.Context, entry *domain.WriteLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, r.keys.writes(entry.Key.String()), data).Err(); err != nil {
		return fmt.Errorf("campaignflow/redis: append writes: %w", err)
	}
	return nil
}

func (r *checkpointRepo) ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	vals, err := r.client.LRange(ctx, r.keys.writes(key.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("campaignflow/redis: list writes: %w", err)
	}

	out := make([]*domain.WriteLogEntry, 0, len(vals))
	for _, v := range vals {
		entry := &domain.WriteLogEntry{}
		if err := json.Unmarshal([]byte(v), entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func mapToRecord(vals map[string]string) (*domain.CheckpointRecord, error) {
	updatedAt, err := strconv.ParseInt(vals["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("campaignflow/redis: parse updated_at: %w", err)
	}

	rec := &domain.CheckpointRecord{
		Key: domain.CheckpointKey{
			RunID:        vals["run_id"],
			Namespace:    vals["namespace"],
			CheckpointID: vals["checkpoint_id"],
		},
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}
	if s, ok := vals["state"]; ok && s != "" {
		rec.State = []byte(s)
	}
	if m := vals["metadata"]; m != "" && m != "null" {
		if err := json.Unmarshal([]byte(m), &rec.Metadata); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
