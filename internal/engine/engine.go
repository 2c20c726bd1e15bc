// Package engine executes campaign runs over a phase graph. A run advances
// one phase at a time, is checkpointed after every transition, pauses at
// approval gates and resumes from its last checkpoint.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/approval"
	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/codec"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/observability"
)

// Defaults.
const (
	DefaultNamespace = "campaign"
	DefaultMaxSteps  = 200
)

// Checkpoint metadata keys written next to the codec name.
const (
	MetaStatus = "status"
	MetaPhase  = "phase"
	MetaStep   = "step"
	MetaTenant = "tenant_id"
)

// Gateway is the part of the approval gateway the engine needs.
type Gateway interface {
	Request(ctx context.Context, in approval.RequestInput) (*domain.ApprovalRequest, error)
	Get(ctx context.Context, requestID string) (*domain.ApprovalRequest, error)
}

var _ Gateway = (*approval.Gateway)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records phase and run outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithCodec sets the codec used for new checkpoints. Existing checkpoints
// are decoded with the codec recorded in their metadata.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) { e.codec = c }
}

// WithNamespace sets the checkpoint namespace.
func WithNamespace(ns string) Option {
	return func(e *Engine) { e.namespace = ns }
}

// WithMaxSteps bounds the number of phases a run may execute.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs RunStates through a Graph. It holds no per-run state, so one
// Engine serves any number of runs; callers serialize access to each run.
type Engine struct {
	graph     *Graph
	store     checkpoint.Store
	gateway   Gateway
	codec     codec.Codec
	namespace string
	maxSteps  int
	logger    *zap.Logger
	metrics   *observability.Metrics
	observers []Observer
	now       func() time.Time
}

// New validates graph and creates an Engine. gateway may be nil for
// graphs without approval gates.
func New(graph *Graph, store checkpoint.Store, gateway Gateway, opts ...Option) (*Engine, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		graph:     graph,
		store:     store,
		gateway:   gateway,
		codec:     codec.JSONCodec{},
		namespace: DefaultNamespace,
		maxSteps:  DefaultMaxSteps,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Graph returns the graph the engine runs.
func (e *Engine) Graph() *Graph { return e.graph }

// Key returns the checkpoint key of a run.
func (e *Engine) Key(runID string) domain.CheckpointKey {
	return domain.CheckpointKey{RunID: runID, Namespace: e.namespace}
}

// Namespace returns the checkpoint namespace.
func (e *Engine) Namespace() string { return e.namespace }

// Load decodes the latest checkpoint of a run.
func (e *Engine) Load(ctx context.Context, runID string) (*domain.RunState, error) {
	rec, err := e.store.Get(ctx, e.Key(runID))
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return e.Decode(rec)
}

// Decode decodes a checkpoint record with the codec named in its metadata.
func (e *Engine) Decode(rec *domain.CheckpointRecord) (*domain.RunState, error) {
	c, err := codec.ForRecord(rec, e.codec)
	if err != nil {
		return nil, err
	}
	state, err := c.Decode(rec.State)
	if err != nil {
		return nil, fmt.Errorf("decode run %s: %w", rec.Key.RunID, err)
	}
	return state, nil
}

// Run advances state until it completes, fails or pauses at a gate, and
// returns the resulting state. The caller's state is not modified.
//
// A phase failure, or a pending approval the gateway does not know, marks
// the run failed and is returned as a *domain.PhaseExecutionError together
// with the failed state. Other
// errors (checkpoint writes, approval lookups, context cancellation)
// leave the run at its last checkpoint so it can be resumed.
func (e *Engine) Run(ctx context.Context, in *domain.RunState) (*domain.RunState, error) {
	if in == nil || in.RunID == "" {
		return nil, fmt.Errorf("%w: run state needs a run id", domain.ErrInvalidArgument)
	}
	state := in.Clone()
	if state.Status.IsTerminal() {
		return state, nil
	}

	if state.Step == 0 && state.CurrentPhase == "" {
		state.CurrentPhase = e.graph.Entry()
		state.Status = domain.RunStatusRunning
		e.metrics.RunStarted()
		e.logger.Info("run started",
			zap.String("run_id", state.RunID),
			zap.String("tenant_id", state.TenantID),
			zap.String("brand_id", state.BrandID))
		if err := e.checkpoint(ctx, state); err != nil {
			return state, err
		}
	}

	if state.PendingApproval != nil {
		resumed, err := e.resumeGate(ctx, state)
		if err != nil || resumed.Status != domain.RunStatusRunning {
			return resumed, err
		}
		state = resumed
	}
	state.Status = domain.RunStatusRunning

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if state.CurrentPhase == End {
			state.Complete()
			e.stopped(state)
			return state, e.checkpoint(ctx, state)
		}
		if state.Step >= e.maxSteps {
			return e.fail(ctx, state, state.CurrentPhase,
				fmt.Errorf("%w: %d phases executed", domain.ErrStepLimit, state.Step))
		}

		next, err := e.step(ctx, state)
		if err != nil {
			return next, err
		}
		state = next
		if state.Status != domain.RunStatusRunning {
			return state, nil
		}
	}
}

// step executes the current phase and checkpoints the transition out of it.
func (e *Engine) step(ctx context.Context, state *domain.RunState) (*domain.RunState, error) {
	phase := state.CurrentPhase
	fn, ok := e.graph.phases[phase]
	if !ok {
		return e.fail(ctx, state, phase, fmt.Errorf("%w: phase %q is not registered", domain.ErrUnknownRoute, phase))
	}

	state.Step++
	started := e.now()
	e.emit(Event{Kind: EventPhaseStarted, RunID: state.RunID, Phase: phase, Step: state.Step})

	out, err := e.execute(ctx, fn, state)
	if err == nil {
		err = e.checkOutput(phase, state, out)
	}
	elapsed := e.now().Sub(started)
	if err != nil {
		state.PhaseHistory = append(state.PhaseHistory, domain.PhaseRecord{
			Step: state.Step, Phase: phase, StartedAt: started.UTC(), Duration: elapsed, Outcome: "error",
		})
		e.finished(state, phase, elapsed, "error", err)
		return e.fail(ctx, state, phase, err)
	}

	writes := artifactWrites(state, out)
	outcome := "ok"
	if out.GateRequest != nil {
		outcome = "paused"
	}
	out.PhaseHistory = append(out.PhaseHistory, domain.PhaseRecord{
		Step: out.Step, Phase: phase, StartedAt: started.UTC(), Duration: elapsed, Outcome: outcome,
	})
	e.finished(out, phase, elapsed, outcome, nil)

	if out.GateRequest != nil {
		req, err := e.openGate(ctx, out, phase)
		if err != nil {
			return e.fail(ctx, out, phase, err)
		}
		writes = append(writes, domain.ChannelWrite{Channel: "approval", Value: jsonString(req.ID)})
		if err := e.store.PutWrites(ctx, e.Key(out.RunID), taskID(out.Step, phase), writes); err != nil {
			return out, fmt.Errorf("record writes for %s: %w", phase, err)
		}
		e.stopped(out)
		return out, e.checkpoint(ctx, out)
	}

	if err := e.store.PutWrites(ctx, e.Key(out.RunID), taskID(out.Step, phase), writes); err != nil {
		return out, fmt.Errorf("record writes for %s: %w", phase, err)
	}
	next, err := e.graph.next(phase, out)
	if err != nil {
		return e.fail(ctx, out, phase, err)
	}
	e.advance(out, next)
	return out, e.checkpoint(ctx, out)
}

// execute calls fn on a private copy of state. Panics become errors.
func (e *Engine) execute(ctx context.Context, fn PhaseFunc, state *domain.RunState) (out *domain.RunState, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("phase panicked",
				zap.String("run_id", state.RunID),
				zap.String("phase", state.CurrentPhase),
				zap.Any("panic", r),
				zap.Stack("stack"))
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, state.Clone())
}

// checkOutput enforces what a phase may change.
func (e *Engine) checkOutput(phase string, before, out *domain.RunState) error {
	switch {
	case out == nil:
		return errors.New("phase returned no state")
	case out.RunID != before.RunID:
		return fmt.Errorf("%w: phase changed run id to %q", domain.ErrInvalidState, out.RunID)
	case out.RevisionCount > out.MaxRevisions:
		return fmt.Errorf("%w: revision count %d exceeds maximum %d", domain.ErrInvalidState, out.RevisionCount, out.MaxRevisions)
	case out.PendingApproval != nil && before.PendingApproval == nil:
		return fmt.Errorf("%w: phases request approvals through RequestApproval", domain.ErrInvalidState)
	}
	for _, a := range out.ArtifactList() {
		if prev := before.Artifact(a.Type); prev != nil && prev.ID == a.ID {
			continue
		}
		if a.Provenance.Phase != phase {
			return fmt.Errorf("%w: artifact %s claims phase %q but %q ran",
				domain.ErrInvalidState, a.ID, a.Provenance.Phase, phase)
		}
	}
	return nil
}

func (e *Engine) openGate(ctx context.Context, state *domain.RunState, phase string) (*domain.ApprovalRequest, error) {
	gate := state.GateRequest
	state.GateRequest = nil
	if e.gateway == nil {
		return nil, errors.New("approval requested but no approval gateway is configured")
	}
	art := state.Artifact(gate.ArtifactType)
	if art == nil {
		return nil, fmt.Errorf("%w: no %s artifact to approve", domain.ErrInvalidArgument, gate.ArtifactType)
	}

	req, err := e.gateway.Request(ctx, approval.RequestInput{
		RunID:        state.RunID,
		ArtifactType: gate.ArtifactType,
		ArtifactID:   art.ID,
		ArtifactData: art.Payload,
		ApproverRole: gate.ApproverRole,
		Timeout:      gate.Timeout,
	})
	if err != nil {
		return nil, err
	}

	state.PendingApproval = &domain.ApprovalRef{
		RequestID:    req.ID,
		Phase:        phase,
		ArtifactType: req.ArtifactType,
		ExpiresAt:    req.ExpiresAt,
	}
	state.Status = domain.RunStatusPaused
	state.Touch()
	e.logger.Info("run paused for approval",
		zap.String("run_id", state.RunID),
		zap.String("phase", phase),
		zap.String("request_id", req.ID),
		zap.String("role", req.ApproverRole))
	e.emit(Event{Kind: EventRunPaused, RunID: state.RunID, Phase: phase, Step: state.Step, ApprovalID: req.ID})
	return req, nil
}

// resumeGate consumes the decision on a paused run's pending approval.
func (e *Engine) resumeGate(ctx context.Context, state *domain.RunState) (*domain.RunState, error) {
	ref := state.PendingApproval
	if e.gateway == nil {
		return state, errors.New("run has a pending approval but no approval gateway is configured")
	}
	req, err := e.gateway.Get(ctx, ref.RequestID)
	if errors.Is(err, domain.ErrApprovalNotFound) {
		state.PendingApproval = nil
		return e.fail(ctx, state, ref.Phase, fmt.Errorf("approval %s: %w", ref.RequestID, err))
	}
	if err != nil {
		return state, fmt.Errorf("check approval %s: %w", ref.RequestID, err)
	}
	if req.Status == domain.ApprovalStatusPending {
		state.Status = domain.RunStatusPaused
		return state, nil
	}

	state.ApprovalHistory = append(state.ApprovalHistory, req)
	state.PendingApproval = nil
	state.Status = domain.RunStatusRunning
	e.logger.Info("approval decided, resuming run",
		zap.String("run_id", state.RunID),
		zap.String("phase", ref.Phase),
		zap.String("request_id", req.ID),
		zap.String("status", req.Status.String()),
		zap.String("decided_by", req.DecidedBy))

	decision := []domain.ChannelWrite{{Channel: "decision", Value: jsonString(req.Status.String())}}
	if err := e.store.PutWrites(ctx, e.Key(state.RunID), taskID(state.Step, ref.Phase)+":decision", decision); err != nil {
		return state, fmt.Errorf("record decision for %s: %w", ref.Phase, err)
	}

	next, err := e.graph.next(ref.Phase, state)
	if err != nil {
		return e.fail(ctx, state, ref.Phase, err)
	}
	e.advance(state, next)
	return state, e.checkpoint(ctx, state)
}

func (e *Engine) advance(state *domain.RunState, next string) {
	if next == state.RevisionTarget {
		state.RevisionTarget = ""
	}
	state.CurrentPhase = next
	state.Touch()
}

// fail records err as a phase failure, checkpoints the failed run and
// returns the error.
func (e *Engine) fail(ctx context.Context, state *domain.RunState, phase string, err error) (*domain.RunState, error) {
	perr := &domain.PhaseExecutionError{Phase: phase, Step: state.Step, Err: err}
	state.GateRequest = nil
	state.Fail(phase, perr)
	e.logger.Error("run failed",
		zap.String("run_id", state.RunID),
		zap.String("phase", phase),
		zap.Int("step", state.Step),
		zap.Error(err))
	e.stopped(state)
	if cerr := e.checkpoint(ctx, state); cerr != nil {
		return state, errors.Join(perr, cerr)
	}
	return state, perr
}

func (e *Engine) checkpoint(ctx context.Context, state *domain.RunState) error {
	data, err := e.codec.Encode(state)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", state.RunID, err)
	}
	meta := map[string]string{
		codec.MetadataKey: e.codec.Name(),
		MetaStatus:        state.Status.String(),
		MetaPhase:         state.CurrentPhase,
		MetaStep:          strconv.Itoa(state.Step),
		MetaTenant:        state.TenantID,
	}
	if err := e.store.Put(ctx, e.Key(state.RunID), data, meta); err != nil {
		return fmt.Errorf("checkpoint run %s: %w", state.RunID, err)
	}
	return nil
}

func (e *Engine) finished(state *domain.RunState, phase string, d time.Duration, outcome string, err error) {
	e.metrics.ObservePhase(phase, outcome, d)
	fields := []zap.Field{
		zap.String("run_id", state.RunID),
		zap.String("phase", phase),
		zap.Int("step", state.Step),
		zap.Duration("duration", d),
		zap.String("outcome", outcome),
	}
	if err != nil {
		e.logger.Warn("phase finished", append(fields, zap.Error(err))...)
	} else {
		e.logger.Debug("phase finished", fields...)
	}
	e.emit(Event{Kind: EventPhaseFinished, RunID: state.RunID, Phase: phase, Step: state.Step, Duration: d, Err: err})
}

func (e *Engine) stopped(state *domain.RunState) {
	e.metrics.RunStopped(state.Status.String())
	switch state.Status {
	case domain.RunStatusCompleted:
		e.logger.Info("run completed",
			zap.String("run_id", state.RunID),
			zap.Int("steps", state.Step),
			zap.Int("revisions", state.RevisionCount),
			zap.Bool("forced_override", state.ForcedOverride != nil))
		e.emit(Event{Kind: EventRunCompleted, RunID: state.RunID, Step: state.Step})
	case domain.RunStatusFailed:
		e.emit(Event{Kind: EventRunFailed, RunID: state.RunID, Phase: state.Error.Phase, Step: state.Step})
	}
}

func (e *Engine) emit(ev Event) {
	for _, o := range e.observers {
		o.Observe(ev)
	}
}

// artifactWrites lists the artifacts out added on top of before.
func artifactWrites(before, out *domain.RunState) []domain.ChannelWrite {
	var writes []domain.ChannelWrite
	for _, a := range out.ArtifactList() {
		if prev := before.Artifact(a.Type); prev != nil && prev.ID == a.ID {
			continue
		}
		value, _ := json.Marshal(struct {
			ID      string `json:"id"`
			Version int    `json:"version"`
		}{a.ID, a.Version})
		writes = append(writes, domain.ChannelWrite{Channel: "artifact:" + string(a.Type), Value: value})
	}
	return writes
}

func taskID(step int, phase string) string {
	return strconv.Itoa(step) + ":" + phase
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
