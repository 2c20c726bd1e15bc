package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campaignflow/internal/approval"
	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/codec"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/revision"
	"github.com/example/campaignflow/internal/storage/memory"
	"github.com/example/campaignflow/pkg/id"
)

// recordingStore decodes every checkpoint written through it.
type recordingStore struct {
	checkpoint.Store
	direct *checkpoint.ResilientStore
	t      *testing.T

	mu     sync.Mutex
	states []*domain.RunState
}

func newRecordingStore(t *testing.T) *recordingStore {
	direct := checkpoint.NewDirectStore(checkpoint.NewLocalTransport(memory.New()))
	return &recordingStore{Store: direct, direct: direct, t: t}
}

func (s *recordingStore) Put(ctx context.Context, key domain.CheckpointKey, state []byte, meta map[string]string) error {
	c, err := codec.Get(meta[codec.MetadataKey])
	require.NoError(s.t, err)
	decoded, err := c.Decode(state)
	require.NoError(s.t, err)

	s.mu.Lock()
	s.states = append(s.states, decoded)
	s.mu.Unlock()
	return s.Store.Put(ctx, key, state, meta)
}

func (s *recordingStore) ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	return s.direct.ListWrites(ctx, key)
}

func (s *recordingStore) checkpoints() []*domain.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.RunState(nil), s.states...)
}

func produce(t domain.ArtifactType) PhaseFunc {
	return func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
		s.PutArtifact(domain.NewArtifact(id.NewArtifactID(s.RunID), t, s.RunID, s.CurrentPhase, "", json.RawMessage(`{"ok":true}`)))
		return s, nil
	}
}

func gate(t domain.ArtifactType, role string) PhaseFunc {
	return func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
		if err := s.RequestApproval(t, role, time.Hour); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func mustGraph(t *testing.T, build func(g *Graph)) *Graph {
	t.Helper()
	g := NewGraph()
	build(g)
	require.NoError(t, g.Validate())
	return g
}

func linearGraph(t *testing.T) *Graph {
	return mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("create_brief", produce(domain.ArtifactCampaignBrief)))
		require.NoError(t, g.Register("generate_copy", produce(domain.ArtifactCopyPacket)))
		require.NoError(t, g.AddEdge("create_brief", "generate_copy"))
		require.NoError(t, g.AddEdge("generate_copy", End))
		require.NoError(t, g.SetEntry("create_brief"))
	})
}

func newEngine(t *testing.T, g *Graph, store checkpoint.Store, gw Gateway, opts ...Option) *Engine {
	t.Helper()
	e, err := New(g, store, gw, opts...)
	require.NoError(t, err)
	return e
}

func TestEngine_LinearRunCompletes(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)
	var events []EventKind
	e := newEngine(t, linearGraph(t), store, nil,
		WithObserver(ObserverFunc(func(ev Event) { events = append(events, ev.Kind) })))

	in := domain.NewRunState("run-1", "tenant", "brand", nil, 2)
	out, err := e.Run(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, out.Status)
	assert.Equal(t, End, out.CurrentPhase)
	assert.Equal(t, 2, out.Step)
	require.NotNil(t, out.CompletedAt)
	assert.Equal(t, []domain.ArtifactType{domain.ArtifactCampaignBrief, domain.ArtifactCopyPacket}, out.ArtifactOrder)
	require.Len(t, out.PhaseHistory, 2)
	assert.Equal(t, "create_brief", out.PhaseHistory[0].Phase)
	assert.Equal(t, "ok", out.PhaseHistory[1].Outcome)

	assert.Empty(t, in.CurrentPhase, "caller state is untouched")
	assert.Equal(t, []EventKind{
		EventPhaseStarted, EventPhaseFinished,
		EventPhaseStarted, EventPhaseFinished,
		EventRunCompleted,
	}, events)

	// Initial, one per transition, and the completion.
	assert.Len(t, store.checkpoints(), 4)

	loaded, err := e.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, loaded.Status)

	writes, err := store.ListWrites(ctx, e.Key("run-1"))
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, "1:create_brief", writes[0].TaskID)
	assert.Equal(t, "2:generate_copy", writes[1].TaskID)
	require.Len(t, writes[1].Writes, 1)
	assert.Equal(t, "artifact:COPY_PACKET", writes[1].Writes[0].Channel)

	again, err := e.Run(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, out.Step, again.Step, "terminal runs are returned unchanged")
}

func TestEngine_LoadMissing(t *testing.T) {
	e := newEngine(t, linearGraph(t), newRecordingStore(t), nil)
	_, err := e.Load(context.Background(), "run-404")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_MsgpackCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)
	e := newEngine(t, linearGraph(t), store, nil, WithCodec(codec.MsgpackCodec{}))

	_, err := e.Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	require.NoError(t, err)

	rec, err := store.Get(ctx, e.Key("run-1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, codec.NameMsgpack, rec.Metadata[codec.MetadataKey])
	assert.Equal(t, "COMPLETED", rec.Metadata[MetaStatus])

	// A JSON engine still reads msgpack checkpoints.
	reader := newEngine(t, linearGraph(t), store, nil)
	loaded, err := reader.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, loaded.Status)
}

func gatedGraph(t *testing.T) *Graph {
	return mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("create_brief", produce(domain.ArtifactCampaignBrief)))
		require.NoError(t, g.Register("approve_brief", gate(domain.ArtifactCampaignBrief, "marketing_manager")))
		require.NoError(t, g.Register("generate_copy", produce(domain.ArtifactCopyPacket)))
		require.NoError(t, g.AddEdge("create_brief", "approve_brief"))
		require.NoError(t, g.AddConditionalEdge("approve_brief", func(s *domain.RunState) string {
			if s.LastApproval().Status.IsApproval() {
				return "approved"
			}
			return "rejected"
		}, map[string]string{"approved": "generate_copy", "rejected": End}))
		require.NoError(t, g.AddEdge("generate_copy", End))
		require.NoError(t, g.SetEntry("create_brief"))
	})
}

func TestEngine_PausesAtGateAndResumes(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)
	gw := approval.New()
	e := newEngine(t, gatedGraph(t), store, gw)

	paused, err := e.Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, paused.Status)
	assert.Equal(t, "approve_brief", paused.CurrentPhase)
	require.NotNil(t, paused.PendingApproval)
	assert.Nil(t, paused.GateRequest)

	loaded, err := e.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, loaded.Status)
	assert.Equal(t, paused.PendingApproval.RequestID, loaded.PendingApproval.RequestID)

	pending, err := gw.ListPending(ctx, "marketing_manager")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, paused.Artifact(domain.ArtifactCampaignBrief).ID, pending[0].ArtifactID)

	// Still pending: resuming is a no-op.
	still, err := e.Run(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, still.Status)
	assert.Equal(t, loaded.Step, still.Step)

	_, err = gw.Approve(ctx, pending[0].ID, "alice", "", false)
	require.NoError(t, err)

	done, err := e.Run(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	assert.Nil(t, done.PendingApproval)
	require.Len(t, done.ApprovalHistory, 1)
	assert.Equal(t, "alice", done.ApprovalHistory[0].DecidedBy)
	assert.NotNil(t, done.Artifact(domain.ArtifactCopyPacket))

	writes, err := store.ListWrites(ctx, e.Key("run-1"))
	require.NoError(t, err)
	var channels []string
	for _, w := range writes {
		for _, c := range w.Writes {
			channels = append(channels, c.Channel)
		}
	}
	assert.Contains(t, channels, "approval")
	assert.Contains(t, channels, "decision")
}

// pauseFailingStore rejects the next paused checkpoint while armed.
type pauseFailingStore struct {
	checkpoint.Store
	armed atomic.Bool
}

var errCheckpointDown = errors.New("checkpoint backend unavailable")

func (s *pauseFailingStore) Put(ctx context.Context, key domain.CheckpointKey, state []byte, meta map[string]string) error {
	if meta[MetaStatus] == domain.RunStatusPaused.String() && s.armed.CompareAndSwap(true, false) {
		return errCheckpointDown
	}
	return s.Store.Put(ctx, key, state, meta)
}

func TestEngine_GateReopenReusesRequest(t *testing.T) {
	ctx := context.Background()
	store := &pauseFailingStore{Store: checkpoint.NewDirectStore(checkpoint.NewLocalTransport(memory.New()))}
	store.armed.Store(true)
	gw := approval.New()
	e := newEngine(t, gatedGraph(t), store, gw)

	_, err := e.Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	require.ErrorIs(t, err, errCheckpointDown)

	opened, err := gw.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, opened, 1)

	loaded, err := e.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, loaded.Status)
	assert.Equal(t, "approve_brief", loaded.CurrentPhase)
	assert.Nil(t, loaded.PendingApproval)

	paused, err := e.Run(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, paused.Status)
	require.NotNil(t, paused.PendingApproval)
	assert.Equal(t, opened[0].ID, paused.PendingApproval.RequestID)

	pending, err := gw.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "the retried gate does not open a second request")
	assert.Empty(t, gw.History(ctx))
}

func TestEngine_MissingApprovalFailsRun(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore(t)

	paused, err := newEngine(t, gatedGraph(t), store, approval.New()).
		Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPaused, paused.Status)

	// A gateway that never saw the request.
	e := newEngine(t, gatedGraph(t), store, approval.New())
	loaded, err := e.Load(ctx, "run-1")
	require.NoError(t, err)

	out, err := e.Run(ctx, loaded)
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
	var perr *domain.PhaseExecutionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "approve_brief", perr.Phase)
	assert.Equal(t, domain.RunStatusFailed, out.Status)
	assert.Nil(t, out.PendingApproval)

	got, err := e.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "approve_brief", got.Error.Phase)
}

func TestEngine_GateWithoutGatewayFails(t *testing.T) {
	e := newEngine(t, gatedGraph(t), newRecordingStore(t), nil)

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	var perr *domain.PhaseExecutionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "approve_brief", perr.Phase)
	assert.Equal(t, domain.RunStatusFailed, out.Status)
}

func TestEngine_PhaseErrorFailsRun(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("model quota exceeded")
	calls := 0
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("create_brief", produce(domain.ArtifactCampaignBrief)))
		require.NoError(t, g.Register("generate_copy", func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
			calls++
			s.Feedback = append(s.Feedback, "half-written")
			return nil, boom
		}))
		require.NoError(t, g.AddEdge("create_brief", "generate_copy"))
		require.NoError(t, g.AddEdge("generate_copy", End))
		require.NoError(t, g.SetEntry("create_brief"))
	})
	store := newRecordingStore(t)
	e := newEngine(t, g, store, nil)

	out, err := e.Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var perr *domain.PhaseExecutionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "generate_copy", perr.Phase)
	assert.Equal(t, 2, perr.Step)

	assert.Equal(t, domain.RunStatusFailed, out.Status)
	require.NotNil(t, out.Error)
	assert.Equal(t, "generate_copy", out.Error.Phase)
	assert.Empty(t, out.Feedback, "partial phase output is discarded")
	assert.Equal(t, "error", out.PhaseHistory[len(out.PhaseHistory)-1].Outcome)

	loaded, err := e.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, loaded.Status)

	_, err = e.Run(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "failed phases are not retried")
}

func TestEngine_PanicIsRecovered(t *testing.T) {
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("design", func(context.Context, *domain.RunState) (*domain.RunState, error) {
			panic("nil palette")
		}))
		require.NoError(t, g.AddEdge("design", End))
		require.NoError(t, g.SetEntry("design"))
	})
	e := newEngine(t, g, newRecordingStore(t), nil)

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	var perr *domain.PhaseExecutionError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "nil palette")
	assert.Equal(t, domain.RunStatusFailed, out.Status)
}

func TestEngine_UnknownRouteFailsRun(t *testing.T) {
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("qa_review", produce(domain.ArtifactQAReport)))
		require.NoError(t, g.AddConditionalEdge("qa_review",
			func(*domain.RunState) string { return "maybe" },
			map[string]string{"yes": End}))
		require.NoError(t, g.SetEntry("qa_review"))
	})
	e := newEngine(t, g, newRecordingStore(t), nil)

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	assert.ErrorIs(t, err, domain.ErrUnknownRoute)
	assert.Equal(t, domain.RunStatusFailed, out.Status)
	assert.Equal(t, "qa_review", out.Error.Phase)
}

func TestEngine_StepLimit(t *testing.T) {
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("a", func(_ context.Context, s *domain.RunState) (*domain.RunState, error) { return s, nil }))
		require.NoError(t, g.Register("b", func(_ context.Context, s *domain.RunState) (*domain.RunState, error) { return s, nil }))
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))
		require.NoError(t, g.SetEntry("a"))
	})
	e := newEngine(t, g, newRecordingStore(t), nil, WithMaxSteps(5))

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	assert.ErrorIs(t, err, domain.ErrStepLimit)
	assert.Equal(t, 5, out.Step)
	assert.Equal(t, domain.RunStatusFailed, out.Status)
}

func TestEngine_RejectsForeignArtifact(t *testing.T) {
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("design", func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
			s.PutArtifact(domain.NewArtifact("x", domain.ArtifactCopyPacket, s.RunID, "generate_copy", "", nil))
			return s, nil
		}))
		require.NoError(t, g.AddEdge("design", End))
		require.NoError(t, g.SetEntry("design"))
	})
	e := newEngine(t, g, newRecordingStore(t), nil)

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Nil(t, out.Artifact(domain.ArtifactCopyPacket))
}

func TestEngine_ContextCanceledLeavesRunResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("create_brief", func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
			cancel()
			return produce(domain.ArtifactCampaignBrief)(ctx, s)
		}))
		require.NoError(t, g.Register("generate_copy", produce(domain.ArtifactCopyPacket)))
		require.NoError(t, g.AddEdge("create_brief", "generate_copy"))
		require.NoError(t, g.AddEdge("generate_copy", End))
		require.NoError(t, g.SetEntry("create_brief"))
	})
	store := newRecordingStore(t)
	e := newEngine(t, g, store, nil)

	_, err := e.Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	assert.ErrorIs(t, err, context.Canceled)

	loaded, err := e.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, loaded.Status)
	assert.Equal(t, "generate_copy", loaded.CurrentPhase)

	done, err := e.Run(context.Background(), loaded)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
}

// reviewGraph is a QA loop: copy, qa, revise back to copy or design.
func reviewGraph(t *testing.T, verdicts func() *domain.QAResult) *Graph {
	ctrl := revision.New(revision.DefaultOptions())
	return mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("generate_copy", produce(domain.ArtifactCopyPacket)))
		require.NoError(t, g.Register("design", produce(domain.ArtifactDesignSpec)))
		require.NoError(t, g.Register("qa_review", func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
			s.QAResult = verdicts()
			return s, nil
		}))
		require.NoError(t, g.Register("revise", ctrl.Phase()))
		require.NoError(t, g.AddEdge("generate_copy", "design"))
		require.NoError(t, g.AddEdge("design", "qa_review"))
		require.NoError(t, g.AddConditionalEdge("qa_review", func(s *domain.RunState) string {
			if s.QAResult.Passed() {
				return "pass"
			}
			return "revise"
		}, map[string]string{"pass": End, "revise": "revise"}))
		require.NoError(t, g.AddConditionalEdge("revise", revision.Next, map[string]string{
			revision.Proceed: End,
			"generate_copy":  "generate_copy",
			"design":         "design",
			"create_brief":   "generate_copy",
		}))
		require.NoError(t, g.SetEntry("generate_copy"))
	})
}

func TestEngine_RevisionCapForcesApproval(t *testing.T) {
	store := newRecordingStore(t)
	e := newEngine(t, reviewGraph(t, func() *domain.QAResult {
		return &domain.QAResult{Verdict: domain.QAVerdictRejected, ContentWarnings: []string{"claims"}, AccessibilityScore: 0.9}
	}), store, nil)

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, out.Status)
	assert.Equal(t, 1, out.RevisionCount)
	require.NotNil(t, out.ForcedOverride)
	assert.Equal(t, domain.QAVerdictRejected, out.ForcedOverride.OriginalVerdict)
	assert.Equal(t, domain.QAVerdictApprovedWithFixes, out.QAResult.Verdict)

	// Two copy versions: the original and one revision.
	assert.Equal(t, 2, out.Artifact(domain.ArtifactCopyPacket).Version)
	assert.Len(t, out.SupersededArtifacts, 2)

	for _, cp := range store.checkpoints() {
		assert.LessOrEqual(t, cp.RevisionCount, cp.MaxRevisions, "checkpoint at step %d", cp.Step)
	}
}

func TestEngine_RevisionRoutesToDesign(t *testing.T) {
	n := 0
	e := newEngine(t, reviewGraph(t, func() *domain.QAResult {
		n++
		if n == 1 {
			return &domain.QAResult{Verdict: domain.QAVerdictRejected, AccessibilityScore: 0.5}
		}
		return &domain.QAResult{Verdict: domain.QAVerdictApproved, AccessibilityScore: 0.9}
	}), newRecordingStore(t), nil)

	out, err := e.Run(context.Background(), domain.NewRunState("run-1", "tenant", "brand", nil, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, out.Status)
	assert.Equal(t, 1, out.RevisionCount)
	assert.Nil(t, out.ForcedOverride)
	assert.Equal(t, 1, out.Artifact(domain.ArtifactCopyPacket).Version)
	assert.Equal(t, 2, out.Artifact(domain.ArtifactDesignSpec).Version)
	assert.Empty(t, out.RevisionTarget)
}

func TestEngine_HumanRejectionExhaustsRevisions(t *testing.T) {
	ctx := context.Background()
	ctrl := revision.New(revision.DefaultOptions())
	g := mustGraph(t, func(g *Graph) {
		require.NoError(t, g.Register("create_brief", produce(domain.ArtifactCampaignBrief)))
		require.NoError(t, g.Register("approve_brief", gate(domain.ArtifactCampaignBrief, "manager")))
		require.NoError(t, g.Register("rework", ctrl.ReworkPhase()))
		require.NoError(t, g.AddEdge("create_brief", "approve_brief"))
		require.NoError(t, g.AddConditionalEdge("approve_brief", func(s *domain.RunState) string {
			if s.LastApproval().Status.IsApproval() {
				return "approved"
			}
			return "rejected"
		}, map[string]string{"approved": End, "rejected": "rework"}))
		require.NoError(t, g.AddConditionalEdge("rework", revision.Next, map[string]string{"create_brief": "create_brief"}))
		require.NoError(t, g.SetEntry("create_brief"))
	})
	store := newRecordingStore(t)
	gw := approval.New()
	e := newEngine(t, g, store, gw)

	state, err := e.Run(ctx, domain.NewRunState("run-1", "tenant", "brand", nil, 1))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPaused, state.Status)
	_, err = gw.Reject(ctx, state.PendingApproval.RequestID, "carol", "wrong audience")
	require.NoError(t, err)

	state, err = e.Run(ctx, state)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPaused, state.Status, "rework produced a new brief and reopened the gate")
	assert.Equal(t, 1, state.RevisionCount)
	assert.Equal(t, 2, state.Artifact(domain.ArtifactCampaignBrief).Version)
	assert.Contains(t, state.Feedback, "carol (manager): wrong audience")

	_, err = gw.Reject(ctx, state.PendingApproval.RequestID, "carol", "still wrong")
	require.NoError(t, err)

	state, err = e.Run(ctx, state)
	assert.ErrorIs(t, err, domain.ErrRevisionsExhausted)
	assert.Equal(t, domain.RunStatusFailed, state.Status)
	assert.Len(t, state.ApprovalHistory, 2)

	for _, cp := range store.checkpoints() {
		assert.LessOrEqual(t, cp.RevisionCount, cp.MaxRevisions)
	}
}

func TestGraph_Validate(t *testing.T) {
	noop := func(_ context.Context, s *domain.RunState) (*domain.RunState, error) { return s, nil }

	g := NewGraph()
	assert.ErrorIs(t, g.Validate(), domain.ErrInvalidArgument, "no entry")

	require.NoError(t, g.Register("a", noop))
	assert.ErrorIs(t, g.Register("a", noop), domain.ErrInvalidArgument)
	assert.ErrorIs(t, g.Register(End, noop), domain.ErrInvalidArgument)
	assert.ErrorIs(t, g.SetEntry("missing"), domain.ErrInvalidArgument)
	require.NoError(t, g.SetEntry("a"))
	assert.ErrorIs(t, g.Validate(), domain.ErrInvalidArgument, "a has no edge")

	assert.ErrorIs(t, g.AddEdge("missing", "a"), domain.ErrInvalidArgument)
	require.NoError(t, g.AddEdge("a", "b"))
	assert.ErrorIs(t, g.AddEdge("a", End), domain.ErrInvalidArgument, "second edge")
	assert.ErrorIs(t, g.Validate(), domain.ErrInvalidArgument, "b is not registered")

	require.NoError(t, g.Register("b", noop))
	assert.ErrorIs(t, g.AddConditionalEdge("b", nil, map[string]string{"x": End}), domain.ErrInvalidArgument)
	require.NoError(t, g.AddConditionalEdge("b", func(*domain.RunState) string { return "x" }, map[string]string{"x": End}))
	require.NoError(t, g.Validate())
	assert.Equal(t, []string{"a", "b"}, g.Phases())

	_, err := New(NewGraph(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

var _ checkpoint.Store = (*recordingStore)(nil)
