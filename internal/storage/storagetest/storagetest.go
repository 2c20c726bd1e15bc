// Package storagetest holds conformance tests shared by every
// storage.Backend implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
)

// Run exercises a backend produced by newBackend. Each subtest gets a fresh
// backend.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newBackend(t)) })
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGet(t, newBackend(t)) })
	t.Run("PutIdempotent", func(t *testing.T) { testPutIdempotent(t, newBackend(t)) })
	t.Run("ListOrderAndPaging", func(t *testing.T) { testList(t, newBackend(t)) })
	t.Run("ListSkipsFilteredAndTiedEntries", func(t *testing.T) { testListFilteredTies(t, newBackend(t)) })
	t.Run("WriteLogAppends", func(t *testing.T) { testWrites(t, newBackend(t)) })
	t.Run("Approvals", func(t *testing.T) { testApprovals(t, newBackend(t)) })
}

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func record(runID, ns string, at time.Time, state string) *domain.CheckpointRecord {
	return &domain.CheckpointRecord{
		Key:       domain.CheckpointKey{RunID: runID, Namespace: ns},
		State:     []byte(state),
		Metadata:  map[string]string{"codec": "json"},
		UpdatedAt: at,
	}
}

func testGetMissing(t *testing.T, b storage.Backend) {
	_, err := b.Checkpoints().Get(context.Background(), domain.CheckpointKey{RunID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testPutGet(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	rec := record("run-1", "campaign", base, `{"a":1}`)
	rec.Key.CheckpointID = "step-3"

	require.NoError(t, b.Checkpoints().Put(ctx, rec))

	got, err := b.Checkpoints().Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))

	// Different checkpoint id under the same run is a different record.
	_, err = b.Checkpoints().Get(ctx, domain.CheckpointKey{RunID: "run-1", Namespace: "campaign"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testPutIdempotent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	rec := record("run-1", "campaign", base, `{"a":1}`)

	require.NoError(t, b.Checkpoints().Put(ctx, rec))
	require.NoError(t, b.Checkpoints().Put(ctx, rec))

	all, err := b.Checkpoints().List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec.State, all[0].State)

	// Overwrite replaces, never appends.
	newer := record("run-1", "campaign", base.Add(time.Second), `{"a":2}`)
	require.NoError(t, b.Checkpoints().Put(ctx, newer))
	all, err = b.Checkpoints().List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []byte(`{"a":2}`), all[0].State)
}

func testList(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	for i, id := range []string{"run-a", "run-b", "run-c", "run-d"} {
		require.NoError(t, b.Checkpoints().Put(ctx, record(id, "campaign", base.Add(time.Duration(i)*time.Minute), "{}")))
	}
	require.NoError(t, b.Checkpoints().Put(ctx, record("run-x", "other", base.Add(time.Hour), "{}")))

	all, err := b.Checkpoints().List(ctx, storage.ListOptions{Namespace: "campaign"})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-d", "run-c", "run-b", "run-a"}, runIDs(all))

	page1, err := b.Checkpoints().List(ctx, storage.ListOptions{Namespace: "campaign", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-d", "run-c"}, runIDs(page1))

	last := page1[len(page1)-1]
	page2, err := b.Checkpoints().List(ctx, storage.ListOptions{
		Namespace: "campaign",
		Limit:     2,
		After:     &storage.Cursor{UpdatedAt: last.UpdatedAt, Key: last.Key.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-b", "run-a"}, runIDs(page2))

	before, err := b.Checkpoints().List(ctx, storage.ListOptions{Before: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-b", "run-a"}, runIDs(before))

	byRun, err := b.Checkpoints().List(ctx, storage.ListOptions{RunID: "run-x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-x"}, runIDs(byRun))
}

// testListFilteredTies puts a run of newer records that the filter drops
// ahead of records sharing one microsecond, whose key order is the reverse
// of their time order.
func testListFilteredTies(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	for i := 0; i < 16; i++ {
		require.NoError(t, b.Checkpoints().Put(ctx, record(fmt.Sprintf("run-o%02d", i), "other", base.Add(time.Hour+time.Duration(i)*time.Second), "{}")))
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("run-t%d", 4-i)
		require.NoError(t, b.Checkpoints().Put(ctx, record(id, "campaign", base.Add(time.Duration(i)), "{}")))
	}

	page, err := b.Checkpoints().List(ctx, storage.ListOptions{Namespace: "campaign", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-t0", "run-t1"}, runIDs(page))

	last := page[len(page)-1]
	next, err := b.Checkpoints().List(ctx, storage.ListOptions{
		Namespace: "campaign",
		Limit:     2,
		After:     &storage.Cursor{UpdatedAt: last.UpdatedAt, Key: last.Key.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"run-t2", "run-t3"}, runIDs(next))
}

func testWrites(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	key := domain.CheckpointKey{RunID: "run-1", Namespace: "campaign"}

	for i, task := range []string{"1:create_brief", "2:generate_copy", "2:generate_copy"} {
		require.NoError(t, b.Checkpoints().AppendWrites(ctx, &domain.WriteLogEntry{
			Key:       key,
			TaskID:    task,
			Writes:    []domain.ChannelWrite{{Channel: "artifact", Value: json.RawMessage(`"v"`)}},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := b.Checkpoints().ListWrites(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 3, "write log is append-only")
	assert.Equal(t, "1:create_brief", entries[0].TaskID)
	assert.Equal(t, "2:generate_copy", entries[2].TaskID)
	assert.Equal(t, "artifact", entries[1].Writes[0].Channel)

	other, err := b.Checkpoints().ListWrites(ctx, domain.CheckpointKey{RunID: "run-2"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testApprovals(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	repo := b.Approvals()

	first := domain.NewApprovalRequest("ap-1", "run-1", domain.ArtifactCampaignBrief, "art-1",
		json.RawMessage(`{"title":"spring"}`), "manager", time.Hour, base)
	second := domain.NewApprovalRequest("ap-2", "run-2", domain.ArtifactCopyPacket, "art-2",
		nil, "editor", time.Hour, base.Add(time.Minute))

	require.NoError(t, repo.Save(ctx, second, false))
	require.NoError(t, repo.Save(ctx, first, false))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ap-1", active[0].ID)

	require.NoError(t, first.Decide(domain.ApprovalStatusApproved, "alice", "ok", base.Add(2*time.Minute)))
	require.NoError(t, repo.Save(ctx, first, true))

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ap-2", active[0].ID)

	archived, err := repo.ListArchived(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, domain.ApprovalStatusApproved, archived[0].Status)
	assert.Equal(t, "alice", archived[0].DecidedBy)

	got, err := repo.Get(ctx, "ap-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"spring"}`, string(got.ArtifactData))
	assert.True(t, got.ExpiresAt.Equal(base.Add(time.Hour)))

	_, err = repo.Get(ctx, "ap-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func runIDs(recs []*domain.CheckpointRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key.RunID
	}
	return out
}
