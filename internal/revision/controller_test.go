package revision

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campaignflow/internal/domain"
)

func rejected(mod func(*domain.QAResult)) *domain.QAResult {
	qa := &domain.QAResult{Verdict: domain.QAVerdictRejected, AccessibilityScore: 0.9}
	if mod != nil {
		mod(qa)
	}
	return qa
}

func TestController_TargetPriority(t *testing.T) {
	c := New(DefaultOptions())

	tests := []struct {
		name string
		qa   *domain.QAResult
		want string
	}{
		{"brand violation", rejected(func(q *domain.QAResult) { q.BrandViolations = []string{"logo"} }), "create_brief"},
		{"compliance violation", rejected(func(q *domain.QAResult) { q.ComplianceViolations = []string{"claims"} }), "create_brief"},
		{"brand beats content", rejected(func(q *domain.QAResult) {
			q.BrandViolations = []string{"logo"}
			q.ContentWarnings = []string{"tone"}
			q.AccessibilityScore = 0.1
		}), "create_brief"},
		{"content warning", rejected(func(q *domain.QAResult) { q.ContentWarnings = []string{"tone"} }), "generate_copy"},
		{"content beats accessibility", rejected(func(q *domain.QAResult) {
			q.ContentWarnings = []string{"tone"}
			q.AccessibilityScore = 0.2
		}), "generate_copy"},
		{"low accessibility", rejected(func(q *domain.QAResult) { q.AccessibilityScore = 0.5 }), "design"},
		{"threshold is exclusive", rejected(func(q *domain.QAResult) { q.AccessibilityScore = 0.7 }), "generate_copy"},
		{"default", rejected(nil), "generate_copy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Target(tt.qa))
		})
	}
}

func TestController_CustomOptions(t *testing.T) {
	c := New(Options{DesignPhase: "layout", AccessibilityThreshold: 0.9})
	assert.Equal(t, "layout", c.Target(rejected(func(q *domain.QAResult) { q.AccessibilityScore = 0.8 })))
	assert.Equal(t, "create_brief", c.Target(rejected(func(q *domain.QAResult) { q.BrandViolations = []string{"x"} })))
}

func TestController_RouteAccessibility(t *testing.T) {
	c := New(DefaultOptions())
	state := domain.NewRunState("run-1", "t", "b", nil, 2)

	d := c.Route(state, rejected(func(q *domain.QAResult) { q.AccessibilityScore = 0.5 }))
	assert.Equal(t, "design", d.Target)
	assert.False(t, d.Forced)
	assert.Equal(t, 1, state.RevisionCount)
}

func TestController_RoutePassing(t *testing.T) {
	c := New(DefaultOptions())
	state := domain.NewRunState("run-1", "t", "b", nil, 2)

	d := c.Route(state, &domain.QAResult{Verdict: domain.QAVerdictApproved, AccessibilityScore: 1})
	assert.Equal(t, Decision{}, d)
	assert.Zero(t, state.RevisionCount)
}

func TestController_RouteForcesAtCap(t *testing.T) {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	c := New(DefaultOptions(), WithClock(func() time.Time { return at }))
	state := domain.NewRunState("run-1", "t", "b", nil, 1)
	qa := rejected(func(q *domain.QAResult) { q.ContentWarnings = []string{"too salesy"} })

	first := c.Route(state, qa)
	assert.Equal(t, "generate_copy", first.Target)
	assert.Equal(t, 1, state.RevisionCount)

	second := c.Route(state, qa)
	assert.True(t, second.Forced)
	assert.Empty(t, second.Target)
	assert.Equal(t, 1, state.RevisionCount, "count never exceeds the maximum")

	require.NotNil(t, state.ForcedOverride)
	assert.Equal(t, domain.QAVerdictRejected, state.ForcedOverride.OriginalVerdict)
	assert.Equal(t, "content warning: too salesy", state.ForcedOverride.Reason)
	assert.Equal(t, at, state.ForcedOverride.At)
	require.NotNil(t, state.QAResult)
	assert.Equal(t, domain.QAVerdictApprovedWithFixes, state.QAResult.Verdict)
	assert.Equal(t, domain.QAVerdictRejected, qa.Verdict, "caller's result is not mutated")
	assert.NotEmpty(t, state.Feedback)
}

func TestController_ZeroBudgetForcesImmediately(t *testing.T) {
	c := New(DefaultOptions())
	state := domain.NewRunState("run-1", "t", "b", nil, 0)

	d := c.Route(state, rejected(nil))
	assert.True(t, d.Forced)
	assert.Zero(t, state.RevisionCount)
}

func TestController_Phase(t *testing.T) {
	c := New(DefaultOptions())
	phase := c.Phase()
	ctx := context.Background()

	state := domain.NewRunState("run-1", "t", "b", nil, 1)
	state.QAResult = rejected(func(q *domain.QAResult) { q.AccessibilityScore = 0.4 })

	out, err := phase(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, "design", out.RevisionTarget)
	assert.Equal(t, "design", Next(out))

	out, err = phase(ctx, out)
	require.NoError(t, err)
	assert.Empty(t, out.RevisionTarget)
	assert.Equal(t, Proceed, Next(out))
	assert.NotNil(t, out.ForcedOverride)

	_, err = phase(ctx, domain.NewRunState("run-2", "t", "b", nil, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func rejectedBrief(t *testing.T, maxRevisions int) *domain.RunState {
	t.Helper()
	state := domain.NewRunState("run-1", "t", "b", nil, maxRevisions)
	state.PutArtifact(domain.NewArtifact("a1", domain.ArtifactCampaignBrief, "run-1", "create_brief", "", json.RawMessage(`{}`)))

	req := domain.NewApprovalRequest("apr-1", "run-1", domain.ArtifactCampaignBrief, "a1", nil, "manager", time.Hour, time.Now())
	require.NoError(t, req.Decide(domain.ApprovalStatusRejected, "carol", "wrong audience", time.Now()))
	state.ApprovalHistory = append(state.ApprovalHistory, req)
	return state
}

func TestController_ReworkPhase(t *testing.T) {
	c := New(DefaultOptions())
	rework := c.ReworkPhase()

	state := rejectedBrief(t, 1)
	out, err := rework(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "create_brief", out.RevisionTarget)
	assert.Equal(t, 1, out.RevisionCount)
	assert.Contains(t, out.Feedback[len(out.Feedback)-1], "wrong audience")

	_, err = rework(context.Background(), out)
	assert.ErrorIs(t, err, domain.ErrRevisionsExhausted)
	assert.Equal(t, 1, out.RevisionCount)
}

func TestController_ReworkRequiresRejection(t *testing.T) {
	rework := New(DefaultOptions()).ReworkPhase()

	_, err := rework(context.Background(), domain.NewRunState("run-1", "t", "b", nil, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
