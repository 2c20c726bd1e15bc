// Package approval manages the lifecycle of human approval gates. Expiry
// is lazy: a pending request past its timeout is auto-rejected the next
// time it is read through ListPending, Get or WaitFor.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/observability"
	"github.com/example/campaignflow/internal/storage"
	"github.com/example/campaignflow/pkg/id"
)

// Defaults for requests and polling.
const (
	DefaultTimeout      = 24 * time.Hour
	DefaultPollInterval = 2 * time.Second
)

// DevApprovalNote is recorded on requests approved by dev auto-approve.
const DevApprovalNote = "auto-approved (dev mode)"

// RequestInput describes a new approval gate.
type RequestInput struct {
	RunID        string
	ArtifactType domain.ArtifactType
	ArtifactID   string
	ArtifactData json.RawMessage
	ApproverRole string
	Timeout      time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRepository persists every request and decision to repo.
func WithRepository(repo storage.ApprovalRepository) Option {
	return func(g *Gateway) { g.repo = repo }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics counts requests and decisions on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides time.Now for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithDefaultTimeout sets the timeout used when a request has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.defaultTimeout = d
		}
	}
}

// WithPollInterval sets the WaitFor interval used when the caller passes none.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// WithDevAutoApprove makes WaitFor approve pending requests immediately as
// the system approver. Meant for local development only.
func WithDevAutoApprove(on bool) Option {
	return func(g *Gateway) { g.devAutoApprove = on }
}

// Gateway owns the active and archived approval requests of a process.
type Gateway struct {
	repo           storage.ApprovalRepository
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
	defaultTimeout time.Duration
	pollInterval   time.Duration
	devAutoApprove bool

	mu      sync.Mutex
	active  map[string]*domain.ApprovalRequest
	history []*domain.ApprovalRequest
}

// New creates an empty Gateway. Call Restore to load persisted requests.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		logger:         zap.NewNop(),
		now:            time.Now,
		defaultTimeout: DefaultTimeout,
		pollInterval:   DefaultPollInterval,
		active:         make(map[string]*domain.ApprovalRequest),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AutoApproves reports whether dev auto-approve is on.
func (g *Gateway) AutoApproves() bool { return g.devAutoApprove }

// Restore replaces in-memory state with the repository contents.
func (g *Gateway) Restore(ctx context.Context) error {
	if g.repo == nil {
		return nil
	}
	active, err := g.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("restore active approvals: %w", err)
	}
	archived, err := g.repo.ListArchived(ctx)
	if err != nil {
		return fmt.Errorf("restore approval history: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = make(map[string]*domain.ApprovalRequest, len(active))
	for _, r := range active {
		g.active[r.ID] = r
	}
	g.history = archived
	g.logger.Info("approvals restored", zap.Int("active", len(active)), zap.Int("archived", len(archived)))
	return nil
}

// Request opens a pending approval. A run waits on one request at a time:
// if the run already has a live pending request for the same artifact it
// is returned as is, and a pending request for any other artifact of the
// run is rejected as superseded.
func (g *Gateway) Request(ctx context.Context, in RequestInput) (*domain.ApprovalRequest, error) {
	if strings.TrimSpace(in.ApproverRole) == "" {
		return nil, domain.ErrInvalidRole
	}
	if !in.ArtifactType.Valid() {
		return nil, fmt.Errorf("%w: unknown artifact type %q", domain.ErrInvalidArgument, in.ArtifactType)
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}

	req := domain.NewApprovalRequest(id.NewApprovalID(), in.RunID, in.ArtifactType, in.ArtifactID,
		in.ArtifactData, in.ApproverRole, timeout, g.now())

	g.mu.Lock()
	defer g.mu.Unlock()
	existing, err := g.openForRunLocked(ctx, in.RunID, req.RequestedAt)
	if err != nil {
		return nil, err
	}
	for _, prev := range existing {
		if prev.ArtifactType == in.ArtifactType && prev.ArtifactID == in.ArtifactID {
			g.logger.Info("approval already open",
				zap.String("request_id", prev.ID),
				zap.String("run_id", prev.RunID),
				zap.String("artifact_id", prev.ArtifactID))
			return prev.Clone(), nil
		}
	}
	for _, prev := range existing {
		if err := g.archiveLocked(ctx, prev, domain.ApprovalStatusRejected, domain.SystemApprover, domain.SupersededNote, req.RequestedAt); err != nil {
			return nil, err
		}
	}

	if err := g.save(ctx, req, false); err != nil {
		return nil, err
	}
	g.active[req.ID] = req

	g.metrics.ApprovalRequested()
	g.logger.Info("approval requested",
		zap.String("request_id", req.ID),
		zap.String("run_id", req.RunID),
		zap.String("artifact_type", string(req.ArtifactType)),
		zap.String("role", req.ApproverRole),
		zap.Time("expires_at", req.ExpiresAt))
	return req.Clone(), nil
}

// Approve decides a pending request as approved, or approved with fixes.
func (g *Gateway) Approve(ctx context.Context, requestID, approver, notes string, withFixes bool) (*domain.ApprovalRequest, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver is required", domain.ErrInvalidArgument)
	}
	status := domain.ApprovalStatusApproved
	if withFixes {
		status = domain.ApprovalStatusApprovedWithFixes
	}
	return g.decide(ctx, requestID, status, approver, notes)
}

// Reject decides a pending request as rejected. Notes are mandatory.
func (g *Gateway) Reject(ctx context.Context, requestID, approver, notes string) (*domain.ApprovalRequest, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(notes) == "" {
		return nil, domain.ErrNotesRequired
	}
	return g.decide(ctx, requestID, domain.ApprovalStatusRejected, approver, notes)
}

func (g *Gateway) decide(ctx context.Context, requestID string, status domain.ApprovalStatus, by, notes string) (*domain.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.syncLocked(ctx, requestID); err != nil {
		return nil, err
	}
	req, ok := g.active[requestID]
	if !ok {
		if g.findArchivedLocked(requestID) != nil {
			return nil, domain.ErrApprovalNotPending
		}
		return nil, domain.ErrApprovalNotFound
	}

	now := g.now()
	if req.IsExpired(now) {
		if err := g.expireLocked(ctx, req, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrApprovalNotPending
	}

	if err := g.archiveLocked(ctx, req, status, by, notes, now); err != nil {
		return nil, err
	}
	return g.findArchivedLocked(requestID).Clone(), nil
}

// ListPending returns the pending requests for role (all roles when
// empty), oldest first. Expired requests found on the way are
// auto-rejected.
func (g *Gateway) ListPending(ctx context.Context, role string) ([]*domain.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var out []*domain.ApprovalRequest
	for _, req := range g.active {
		if req.IsExpired(now) {
			if err := g.expireLocked(ctx, req, now); err != nil {
				return nil, err
			}
			continue
		}
		if role == "" || req.ApproverRole == role {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// Get returns a request, active or archived. An expired pending request is
// auto-rejected before it is returned.
func (g *Gateway) Get(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.syncLocked(ctx, requestID); err != nil {
		return nil, err
	}
	if req, ok := g.active[requestID]; ok {
		now := g.now()
		if !req.IsExpired(now) {
			return req.Clone(), nil
		}
		if err := g.expireLocked(ctx, req, now); err != nil {
			return nil, err
		}
	}
	if req := g.findArchivedLocked(requestID); req != nil {
		return req.Clone(), nil
	}
	return nil, domain.ErrApprovalNotFound
}

// History returns archived requests in decision order.
func (g *Gateway) History(ctx context.Context) []*domain.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*domain.ApprovalRequest, len(g.history))
	for i, r := range g.history {
		out[i] = r.Clone()
	}
	return out
}

// WaitFor blocks until the request is decided or expires, polling every
// pollInterval. It never waits past the request's expiry and returns
// ctx.Err() when ctx ends first.
func (g *Gateway) WaitFor(ctx context.Context, requestID string, pollInterval time.Duration) (*domain.ApprovalRequest, error) {
	if pollInterval <= 0 {
		pollInterval = g.pollInterval
	}

	for {
		req, err := g.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != domain.ApprovalStatusPending {
			return req, nil
		}
		if g.devAutoApprove {
			return g.decide(ctx, requestID, domain.ApprovalStatusApproved, domain.SystemApprover, DevApprovalNote)
		}

		wait := pollInterval
		// IsExpired is strict, so wake just after the expiry instant.
		if remaining := req.ExpiresAt.Sub(g.now()) + time.Millisecond; remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *Gateway) expireLocked(ctx context.Context, req *domain.ApprovalRequest, now time.Time) error {
	g.logger.Info("approval expired",
		zap.String("request_id", req.ID),
		zap.String("run_id", req.RunID),
		zap.Time("expires_at", req.ExpiresAt))
	return g.archiveLocked(ctx, req, domain.ApprovalStatusRejected, domain.SystemApprover, domain.TimedOutNote, now)
}

// archiveLocked decides req and moves it from the active set to history.
// The in-memory state only changes once the decision is persisted.
func (g *Gateway) archiveLocked(ctx context.Context, req *domain.ApprovalRequest, status domain.ApprovalStatus, by, notes string, at time.Time) error {
	decided := req.Clone()
	if err := decided.Decide(status, by, notes, at); err != nil {
		return err
	}
	if err := g.save(ctx, decided, true); err != nil {
		return err
	}

	delete(g.active, req.ID)
	g.history = append(g.history, decided)

	decider := "human"
	if by == domain.SystemApprover {
		decider = "system"
	}
	g.metrics.ApprovalDecided(status.String(), decider)
	g.logger.Info("approval decided",
		zap.String("request_id", decided.ID),
		zap.String("run_id", decided.RunID),
		zap.String("status", status.String()),
		zap.String("decided_by", by))
	return nil
}

// openForRunLocked returns the live pending requests of runID, expiring
// the stale ones it finds.
func (g *Gateway) openForRunLocked(ctx context.Context, runID string, now time.Time) ([]*domain.ApprovalRequest, error) {
	var out []*domain.ApprovalRequest
	for _, req := range g.active {
		if req.RunID != runID {
			continue
		}
		if req.IsExpired(now) {
			if err := g.expireLocked(ctx, req, now); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// syncLocked adopts a decision persisted by another process for a request
// this gateway still holds as pending, and loads requests it never saw.
func (g *Gateway) syncLocked(ctx context.Context, requestID string) error {
	if g.repo == nil {
		return nil
	}
	if g.findArchivedLocked(requestID) != nil {
		return nil
	}

	stored, err := g.repo.Get(ctx, requestID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load approval %s: %w", requestID, err)
	}

	if stored.Status.IsDecided() {
		delete(g.active, requestID)
		g.history = append(g.history, stored)
	} else if _, ok := g.active[requestID]; !ok {
		g.active[requestID] = stored
	}
	return nil
}

func (g *Gateway) findArchivedLocked(requestID string) *domain.ApprovalRequest {
	for i := len(g.history) - 1; i >= 0; i-- {
		if g.history[i].ID == requestID {
			return g.history[i]
		}
	}
	return nil
}

func (g *Gateway) save(ctx context.Context, req *domain.ApprovalRequest, archived bool) error {
	if g.repo == nil {
		return nil
	}
	if err := g.repo.Save(ctx, req, archived); err != nil {
		return fmt.Errorf("persist approval %s: %w", req.ID, err)
	}
	return nil
}
