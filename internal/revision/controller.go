// Package revision decides where a rejected campaign re-enters the
// workflow and enforces the per-run revision budget.
package revision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/domain"
)

// Proceed is the route label returned by Next when no revision is pending.
const Proceed = "proceed"

// DefaultAccessibilityThreshold is the score below which design is revised.
const DefaultAccessibilityThreshold = 0.7

// Options names the phases a revision can target.
type Options struct {
	BriefPhase             string
	CopyPhase              string
	DesignPhase            string
	AccessibilityThreshold float64
}

// DefaultOptions returns the phase names of the default campaign graph.
func DefaultOptions() Options {
	return Options{
		BriefPhase:             "create_brief",
		CopyPhase:              "generate_copy",
		DesignPhase:            "design",
		AccessibilityThreshold: DefaultAccessibilityThreshold,
	}
}

// Decision is the outcome of routing one QA result.
type Decision struct {
	// Target is the phase to re-enter. Empty when the run proceeds.
	Target string
	Reason string
	// Forced is set when the revision budget was spent and the rejection
	// was overridden to approved-with-fixes.
	Forced bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides time.Now for override timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller routes QA rejections and human rejections back into the graph.
type Controller struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Controller. Zero fields of opts take their defaults.
func New(opts Options, options ...Option) *Controller {
	def := DefaultOptions()
	if opts.BriefPhase == "" {
		opts.BriefPhase = def.BriefPhase
	}
	if opts.CopyPhase == "" {
		opts.CopyPhase = def.CopyPhase
	}
	if opts.DesignPhase == "" {
		opts.DesignPhase = def.DesignPhase
	}
	if opts.AccessibilityThreshold <= 0 {
		opts.AccessibilityThreshold = def.AccessibilityThreshold
	}
	c := &Controller{opts: opts, logger: zap.NewNop(), now: time.Now}
	for _, o := range options {
		o(c)
	}
	return c
}

// Target returns the phase a rejected result should re-enter, by fixed
// priority: brand or compliance, content, accessibility, then copy.
func (c *Controller) Target(qa *domain.QAResult) string {
	switch {
	case qa == nil:
		return c.opts.CopyPhase
	case len(qa.BrandViolations) > 0 || len(qa.ComplianceViolations) > 0:
		return c.opts.BriefPhase
	case len(qa.ContentWarnings) > 0:
		return c.opts.CopyPhase
	case qa.AccessibilityScore < c.opts.AccessibilityThreshold:
		return c.opts.DesignPhase
	default:
		return c.opts.CopyPhase
	}
}

// Route applies qa to state. A passing result needs no revision. A
// rejection either consumes one revision or, once the budget is spent,
// is forced to approved-with-fixes with the override recorded on state.
func (c *Controller) Route(state *domain.RunState, qa *domain.QAResult) Decision {
	if qa.Passed() {
		return Decision{}
	}

	reason := qa.RejectionReason()
	if state.RevisionCount >= state.MaxRevisions {
		forced := qa.Clone()
		forced.Verdict = domain.QAVerdictApprovedWithFixes
		state.QAResult = forced
		state.ForcedOverride = &domain.ForcedOverride{
			Reason:          reason,
			OriginalVerdict: qa.Verdict,
			RevisionCount:   state.RevisionCount,
			At:              c.now().UTC(),
		}
		state.Feedback = append(state.Feedback,
			fmt.Sprintf("forced approval with fixes after %d revisions: %s", state.RevisionCount, reason))

		c.logger.Warn("revision limit reached, forcing approval with fixes",
			zap.String("run_id", state.RunID),
			zap.Int("revision_count", state.RevisionCount),
			zap.String("reason", reason))
		return Decision{Reason: reason, Forced: true}
	}

	state.RevisionCount++
	target := c.Target(qa)
	c.logger.Info("revision requested",
		zap.String("run_id", state.RunID),
		zap.String("target", target),
		zap.Int("revision_count", state.RevisionCount),
		zap.String("reason", reason))
	return Decision{Target: target, Reason: reason}
}

// Phase returns a phase function that routes the run's current QA result
// and leaves the target in state.RevisionTarget for Next.
func (c *Controller) Phase() func(context.Context, *domain.RunState) (*domain.RunState, error) {
	return func(_ context.Context, state *domain.RunState) (*domain.RunState, error) {
		if state.QAResult == nil {
			return nil, fmt.Errorf("%w: no QA result to route", domain.ErrInvalidState)
		}
		d := c.Route(state, state.QAResult)
		state.RevisionTarget = d.Target
		if d.Target != "" {
			state.Feedback = append(state.Feedback, "qa: "+d.Reason)
		}
		return state, nil
	}
}

// ReworkPhase returns a phase function for a human rejection at a gate. It
// sends the run back to the phase that produced the rejected artifact
// with the approver's notes as feedback. Unlike QA rejections, a human
// rejection past the revision budget fails the run.
func (c *Controller) ReworkPhase() func(context.Context, *domain.RunState) (*domain.RunState, error) {
	return func(_ context.Context, state *domain.RunState) (*domain.RunState, error) {
		last := state.LastApproval()
		if last == nil || last.Status != domain.ApprovalStatusRejected {
			return nil, fmt.Errorf("%w: no rejected approval to rework", domain.ErrInvalidState)
		}
		if state.RevisionCount >= state.MaxRevisions {
			return nil, fmt.Errorf("%w: %s rejected by %s after %d revisions",
				domain.ErrRevisionsExhausted, last.ArtifactType, last.DecidedBy, state.RevisionCount)
		}
		art := state.Artifact(last.ArtifactType)
		if art == nil {
			return nil, fmt.Errorf("%w: rejected %s artifact is missing", domain.ErrInvalidState, last.ArtifactType)
		}

		state.RevisionCount++
		state.RevisionTarget = art.Provenance.Phase
		state.Feedback = append(state.Feedback, fmt.Sprintf("%s (%s): %s", last.DecidedBy, last.ApproverRole, last.Notes))

		c.logger.Info("rework requested",
			zap.String("run_id", state.RunID),
			zap.String("target", state.RevisionTarget),
			zap.String("approval_id", last.ID),
			zap.Int("revision_count", state.RevisionCount))
		return state, nil
	}
}

// Next is a router over state.RevisionTarget: the target phase when one
// is set, Proceed otherwise.
func Next(state *domain.RunState) string {
	if state.RevisionTarget != "" {
		return state.RevisionTarget
	}
	return Proceed
}
