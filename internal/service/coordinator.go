// Package service hosts the run coordinator, the entry point callers use
// to start, inspect and resume campaign runs and to decide approvals.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/approval"
	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/engine"
	"github.com/example/campaignflow/internal/transport/rest"
	"github.com/example/campaignflow/pkg/id"
)

var _ rest.RunReader = (*Coordinator)(nil)

// DefaultMaxRevisions is used when a run does not set its own budget.
const DefaultMaxRevisions = 2

// StartParams are the caller inputs of a new run.
type StartParams struct {
	Params map[string]string
	// MaxRevisions overrides the coordinator default when set.
	MaxRevisions *int
}

// Decision is a human verdict on an approval request.
type Decision int

const (
	DecisionApprove Decision = iota + 1
	DecisionApproveWithFixes
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionApproveWithFixes:
		return "approve_with_fixes"
	case DecisionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseDecision is the inverse of String.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "approve_with_fixes", "fixes":
		return DecisionApproveWithFixes, nil
	case "reject", "rejected":
		return DecisionReject, nil
	default:
		return 0, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidArgument, s)
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMaxRevisions sets the default revision budget of new runs.
func WithMaxRevisions(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxRevisions = n
		}
	}
}

// WithPollInterval sets how often approvals are polled when the gateway
// auto-approves.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// Coordinator drives runs through the engine. Calls on different runs
// proceed in parallel; calls on the same run are serialized.
type Coordinator struct {
	engine       *engine.Engine
	gateway      *approval.Gateway
	store        checkpoint.Store
	logger       *zap.Logger
	maxRevisions int
	pollInterval time.Duration

	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// NewCoordinator creates a Coordinator. store must be the store the
// engine checkpoints to.
func NewCoordinator(e *engine.Engine, gw *approval.Gateway, store checkpoint.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:       e,
		gateway:      gw,
		store:        store,
		logger:       zap.NewNop(),
		maxRevisions: DefaultMaxRevisions,
		locks:        make(map[string]*runLock),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StartRun creates a run and drives it to its first pause or to the end.
func (c *Coordinator) StartRun(ctx context.Context, tenantID, brandID string, p StartParams) (*domain.RunState, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(brandID) == "" {
		return nil, fmt.Errorf("%w: tenant and brand are required", domain.ErrInvalidArgument)
	}
	maxRevisions := c.maxRevisions
	if p.MaxRevisions != nil {
		if *p.MaxRevisions < 0 {
			return nil, fmt.Errorf("%w: max revisions must not be negative", domain.ErrInvalidArgument)
		}
		maxRevisions = *p.MaxRevisions
	}

	state := domain.NewRunState(id.NewRunID(), tenantID, brandID, p.Params, maxRevisions)
	unlock := c.lock(state.RunID)
	defer unlock()

	c.logger.Info("starting run",
		zap.String("run_id", state.RunID),
		zap.String("tenant_id", tenantID),
		zap.String("brand_id", brandID),
		zap.Int("max_revisions", maxRevisions))
	return c.drive(ctx, state)
}

// GetRun returns the latest checkpointed state of a run.
func (c *Coordinator) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	return c.engine.Load(ctx, runID)
}

// ListRuns returns up to limit run summaries, most recently updated first.
func (c *Coordinator) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	var out []domain.RunSummary
	for rec, err := range c.store.List(ctx, checkpoint.ListFilter{Namespace: c.engine.Namespace()}, limit) {
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		state, err := c.engine.Decode(rec)
		if err != nil {
			c.logger.Warn("skipping undecodable checkpoint", zap.String("key", rec.Key.String()), zap.Error(err))
			continue
		}
		out = append(out, state.Summary())
	}
	return out, nil
}

// ResumeRun continues a paused or interrupted run from its checkpoint.
// Terminal runs are returned unchanged.
func (c *Coordinator) ResumeRun(ctx context.Context, runID string) (*domain.RunState, error) {
	unlock := c.lock(runID)
	defer unlock()

	state, err := c.engine.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Status.IsTerminal() {
		return state, nil
	}
	return c.drive(ctx, state)
}

// ListPendingApprovals returns the open approvals for role, or all roles
// when role is empty.
func (c *Coordinator) ListPendingApprovals(ctx context.Context, role string) ([]*domain.ApprovalRequest, error) {
	return c.gateway.ListPending(ctx, role)
}

// DecideApproval records a decision and resumes the run that was waiting
// on it. Once the decision is recorded the decided request is always
// returned; a failure to resume the run is wrapped in
// domain.ErrResumeFailed alongside whatever state the run reached.
func (c *Coordinator) DecideApproval(ctx context.Context, requestID string, d Decision, approver, notes string) (*domain.ApprovalRequest, *domain.RunState, error) {
	var (
		decided *domain.ApprovalRequest
		err     error
	)
	switch d {
	case DecisionApprove, DecisionApproveWithFixes:
		decided, err = c.gateway.Approve(ctx, requestID, approver, notes, d == DecisionApproveWithFixes)
	case DecisionReject:
		decided, err = c.gateway.Reject(ctx, requestID, approver, notes)
	default:
		err = fmt.Errorf("%w: unknown decision %d", domain.ErrInvalidArgument, d)
	}
	if err != nil {
		return nil, nil, err
	}

	c.logger.Info("approval decided",
		zap.String("request_id", requestID),
		zap.String("run_id", decided.RunID),
		zap.String("decision", d.String()),
		zap.String("approver", approver))

	state, err := c.ResumeRun(ctx, decided.RunID)
	if err != nil {
		return decided, state, fmt.Errorf("%w: run %s: %w", domain.ErrResumeFailed, decided.RunID, err)
	}
	return decided, state, nil
}

// drive runs the engine. With dev auto-approve on, gates are settled
// immediately and the run continues until it completes or fails.
func (c *Coordinator) drive(ctx context.Context, state *domain.RunState) (*domain.RunState, error) {
	out, err := c.engine.Run(ctx, state)
	for err == nil && c.gateway.AutoApproves() && out.Status == domain.RunStatusPaused {
		if _, err = c.gateway.WaitFor(ctx, out.PendingApproval.RequestID, c.pollInterval); err != nil {
			break
		}
		out, err = c.engine.Run(ctx, out)
	}

	var perr *domain.PhaseExecutionError
	switch {
	case errors.As(err, &perr):
		c.logger.Warn("run failed", zap.String("run_id", state.RunID), zap.Error(err))
	case err != nil:
		c.logger.Error("run interrupted", zap.String("run_id", state.RunID), zap.Error(err))
	}
	return out, err
}

func (c *Coordinator) lock(runID string) func() {
	c.mu.Lock()
	l, ok := c.locks[runID]
	if !ok {
		l = &runLock{}
		c.locks[runID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(c.locks, runID)
		}
		c.mu.Unlock()
	}
}
