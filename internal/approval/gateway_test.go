package approval

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func briefInput(role string, timeout time.Duration) RequestInput {
	return RequestInput{
		RunID:        "run-1",
		ArtifactType: domain.ArtifactCampaignBrief,
		ArtifactID:   "run-1/brief",
		ArtifactData: json.RawMessage(`{"title":"spring launch"}`),
		ApproverRole: role,
		Timeout:      timeout,
	}
}

func runInput(runID, role string) RequestInput {
	in := briefInput(role, time.Hour)
	in.RunID = runID
	in.ArtifactID = runID + "/brief"
	return in
}

func TestGateway_RequestReusesOpenGate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	g := New(WithRepository(store.Approvals()))

	first, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)
	again, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "the same artifact reuses the open request")

	pending, err := g.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, g.History(ctx))
}

func TestGateway_RequestSupersedesStaleGate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	g := New(WithRepository(store.Approvals()))

	stale, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)
	other, err := g.Request(ctx, runInput("run-2", "editor"))
	require.NoError(t, err)

	in := briefInput("editor", time.Hour)
	in.ArtifactID = "run-1/brief-v2"
	fresh, err := g.Request(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)

	pending, err := g.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	ids := []string{pending[0].ID, pending[1].ID}
	assert.ElementsMatch(t, []string{other.ID, fresh.ID}, ids, "other runs keep their gates")

	got, err := g.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, got.Status)
	assert.Equal(t, domain.SystemApprover, got.DecidedBy)
	assert.Equal(t, domain.SupersededNote, got.Notes)

	_, err = g.Approve(ctx, stale.ID, "alice", "", false)
	assert.ErrorIs(t, err, domain.ErrApprovalNotPending)
}

func TestGateway_RequestAndApprove(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	g := New(WithRepository(store.Approvals()))

	req, err := g.Request(ctx, briefInput("marketing_manager", 0))
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPending, req.Status)
	assert.Equal(t, DefaultTimeout, req.Timeout)
	assert.Equal(t, req.RequestedAt.Add(DefaultTimeout), req.ExpiresAt)

	pending, err := g.ListPending(ctx, "marketing_manager")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	decided, err := g.Approve(ctx, req.ID, "alice", "looks good", false)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, decided.Status)
	assert.Equal(t, "alice", decided.DecidedBy)
	assert.Equal(t, "looks good", decided.Notes)
	require.NotNil(t, decided.DecidedAt)

	pending, err = g.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	history := g.History(ctx)
	require.Len(t, history, 1)
	assert.Equal(t, req.ID, history[0].ID)

	stored, err := store.Approvals().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, stored.Status)

	archived, err := store.Approvals().ListArchived(ctx)
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestGateway_ApproveWithFixes(t *testing.T) {
	ctx := context.Background()
	g := New()

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)

	decided, err := g.Approve(ctx, req.ID, "bob", "tighten the headline", true)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApprovedWithFixes, decided.Status)
}

func TestGateway_RequestValidation(t *testing.T) {
	ctx := context.Background()
	g := New()

	_, err := g.Request(ctx, briefInput("", time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	in := briefInput("editor", time.Hour)
	in.ArtifactType = "POSTER"
	_, err = g.Request(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGateway_RejectRequiresNotes(t *testing.T) {
	ctx := context.Background()
	g := New()

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)

	_, err = g.Reject(ctx, req.ID, "bob", "   ")
	assert.ErrorIs(t, err, domain.ErrNotesRequired)

	got, err := g.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPending, got.Status, "failed reject must not decide")

	rejected, err := g.Reject(ctx, req.ID, "bob", "off brand tone")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, rejected.Status)
	assert.Equal(t, "off brand tone", rejected.Notes)
}

func TestGateway_DecideTwice(t *testing.T) {
	ctx := context.Background()
	g := New()

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)
	_, err = g.Approve(ctx, req.ID, "alice", "", false)
	require.NoError(t, err)

	_, err = g.Reject(ctx, req.ID, "bob", "too late")
	assert.ErrorIs(t, err, domain.ErrApprovalNotPending)

	_, err = g.Approve(ctx, "apr-missing", "alice", "", false)
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGateway_ListPendingFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	g := New(WithClock(clk.Now))

	first, err := g.Request(ctx, runInput("run-1", "editor"))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = g.Request(ctx, runInput("run-2", "legal"))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	third, err := g.Request(ctx, runInput("run-3", "editor"))
	require.NoError(t, err)

	editor, err := g.ListPending(ctx, "editor")
	require.NoError(t, err)
	require.Len(t, editor, 2)
	assert.Equal(t, first.ID, editor[0].ID)
	assert.Equal(t, third.ID, editor[1].ID)

	all, err := g.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGateway_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := memory.New()
	g := New(WithClock(clk.Now), WithRepository(store.Approvals()))

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)

	// Exactly at the deadline the request is still pending.
	clk.Advance(time.Hour)
	pending, err := g.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	clk.Advance(time.Second)
	pending, err = g.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := g.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, got.Status)
	assert.Equal(t, domain.SystemApprover, got.DecidedBy)
	assert.Equal(t, domain.TimedOutNote, got.Notes)

	_, err = g.Approve(ctx, req.ID, "alice", "", false)
	assert.ErrorIs(t, err, domain.ErrApprovalNotPending)

	stored, err := store.Approvals().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SystemApprover, stored.DecidedBy)
}

func TestGateway_ApproveAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	g := New(WithClock(clk.Now))

	req, err := g.Request(ctx, briefInput("editor", time.Minute))
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	_, err = g.Approve(ctx, req.ID, "alice", "", false)
	assert.ErrorIs(t, err, domain.ErrApprovalNotPending)

	history := g.History(ctx)
	require.Len(t, history, 1)
	assert.Equal(t, domain.SystemApprover, history[0].DecidedBy)
}

func TestGateway_WaitForDecision(t *testing.T) {
	ctx := context.Background()
	g := New()

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)

	done := make(chan *domain.ApprovalRequest, 1)
	errs := make(chan error, 1)
	go func() {
		got, err := g.WaitFor(ctx, req.ID, 5*time.Millisecond)
		if err != nil {
			errs <- err
			return
		}
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = g.Approve(ctx, req.ID, "alice", "ship it", false)
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, domain.ApprovalStatusApproved, got.Status)
		assert.Equal(t, "alice", got.DecidedBy)
	case err := <-errs:
		t.Fatalf("WaitFor failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not return after the decision")
	}
}

func TestGateway_WaitForTimesOut(t *testing.T) {
	ctx := context.Background()
	g := New()

	req, err := g.Request(ctx, briefInput("editor", 30*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	got, err := g.WaitFor(ctx, req.ID, time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "wait is bounded by the request expiry")
	assert.Equal(t, domain.ApprovalStatusRejected, got.Status)
	assert.Equal(t, domain.SystemApprover, got.DecidedBy)
	assert.Equal(t, domain.TimedOutNote, got.Notes)
}

func TestGateway_WaitForContextCanceled(t *testing.T) {
	g := New()
	req, err := g.Request(context.Background(), briefInput("editor", time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.WaitFor(ctx, req.ID, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_WaitForUnknown(t *testing.T) {
	_, err := New().WaitFor(context.Background(), "apr-missing", time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
}

func TestGateway_DevAutoApprove(t *testing.T) {
	ctx := context.Background()
	g := New(WithDevAutoApprove(true))
	assert.True(t, g.AutoApproves())

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)

	got, err := g.WaitFor(ctx, req.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, got.Status)
	assert.Equal(t, domain.SystemApprover, got.DecidedBy)
	assert.Equal(t, DevApprovalNote, got.Notes)
}

func TestGateway_RestoreAndCrossProcessDecision(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	server := New(WithRepository(store.Approvals()))
	req, err := server.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)

	// A second gateway over the same storage, as a CLI process would build.
	cli := New(WithRepository(store.Approvals()))
	require.NoError(t, cli.Restore(ctx))

	pending, err := cli.ListPending(ctx, "editor")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = cli.Approve(ctx, req.ID, "alice", "", false)
	require.NoError(t, err)

	got, err := server.WaitFor(ctx, req.ID, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, got.Status)
	assert.Equal(t, "alice", got.DecidedBy)

	pending, err = server.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGateway_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	g := New()

	req, err := g.Request(ctx, briefInput("editor", time.Hour))
	require.NoError(t, err)
	req.ApproverRole = "mutated"

	got, err := g.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "editor", got.ApproverRole)
}
