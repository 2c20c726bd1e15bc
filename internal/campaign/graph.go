// Package campaign wires the marketing campaign workflow: phases, their
// collaborators and the default phase graph run by the engine.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/engine"
	"github.com/example/campaignflow/internal/revision"
	"github.com/example/campaignflow/pkg/id"
)

// Phase names of the default graph.
const (
	PhaseFetchMetrics  = "fetch_metrics"
	PhasePlanCalendar  = "plan_calendar"
	PhaseCreateBrief   = "create_brief"
	PhaseApproveBrief  = "approve_brief"
	PhaseGenerateCopy  = "generate_copy"
	PhaseDesign        = "design"
	PhaseQAReview      = "qa_review"
	PhaseRevise        = "revise"
	PhaseFinalApproval = "final_approval"
	PhaseRework        = "rework"
	PhasePackage       = "package"
)

// Logical stages recorded on the run.
const (
	StageInsight  = "insight"
	StageStrategy = "strategy"
	StageCreative = "creative"
	StageReview   = "review"
	StageDelivery = "delivery"
)

// Route labels.
const (
	routeApproved = "approved"
	routeRejected = "rejected"
	routePass     = "pass"
	routeRevise   = "revise"
)

// Default approver roles.
const (
	RoleMarketingManager = "marketing_manager"
	RoleBrandDirector    = "brand_director"
)

// Config holds the collaborators and policies of the campaign graph.
type Config struct {
	Metrics   MetricsSource
	Generator ContentGenerator
	QA        QAEvaluator
	Revision  *revision.Controller

	BriefApprover   string
	FinalApprover   string
	ApprovalTimeout time.Duration
}

// DevConfig returns a Config with the deterministic dev collaborators.
func DevConfig() Config {
	return Config{
		Metrics:   DevMetrics{},
		Generator: DevGenerator{},
		QA:        DevQA{},
		Revision:  revision.New(revision.DefaultOptions()),
	}
}

func (c *Config) defaults() error {
	if c.Metrics == nil || c.Generator == nil || c.QA == nil {
		return fmt.Errorf("%w: campaign graph needs metrics, generator and QA collaborators", domain.ErrInvalidArgument)
	}
	if c.Revision == nil {
		c.Revision = revision.New(revision.DefaultOptions())
	}
	if c.BriefApprover == "" {
		c.BriefApprover = RoleMarketingManager
	}
	if c.FinalApprover == "" {
		c.FinalApprover = RoleBrandDirector
	}
	return nil
}

// NewGraph builds the default campaign graph:
//
//	fetch_metrics → plan_calendar → create_brief → approve_brief
//	  → generate_copy → design → qa_review → [revise] → final_approval
//	  → package → end
//
// A QA rejection goes through revise, which either loops back to the
// brief, copy or design phase or forces the run on. A human rejection at
// either gate goes through rework back to the phase that produced the
// rejected artifact.
func NewGraph(cfg Config) (*engine.Graph, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	p := &phases{cfg: cfg}
	g := engine.NewGraph()

	register := []struct {
		name  string
		stage string
		fn    engine.PhaseFunc
	}{
		{PhaseFetchMetrics, StageInsight, p.fetchMetrics},
		{PhasePlanCalendar, StageInsight, p.planCalendar},
		{PhaseCreateBrief, StageStrategy, p.createBrief},
		{PhaseApproveBrief, StageStrategy, p.gate(domain.ArtifactCampaignBrief, cfg.BriefApprover)},
		{PhaseGenerateCopy, StageCreative, p.generateCopy},
		{PhaseDesign, StageCreative, p.design},
		{PhaseQAReview, StageReview, p.qaReview},
		{PhaseRevise, StageReview, cfg.Revision.Phase()},
		{PhaseFinalApproval, StageReview, p.gate(domain.ArtifactCopyPacket, cfg.FinalApprover)},
		{PhaseRework, StageReview, cfg.Revision.ReworkPhase()},
		{PhasePackage, StageDelivery, p.pack},
	}
	for _, r := range register {
		if err := g.Register(r.name, staged(r.stage, r.fn)); err != nil {
			return nil, err
		}
	}

	loopBack := map[string]string{
		PhaseCreateBrief:  PhaseCreateBrief,
		PhaseGenerateCopy: PhaseGenerateCopy,
		PhaseDesign:       PhaseDesign,
	}
	revise := map[string]string{revision.Proceed: PhaseFinalApproval}
	for k, v := range loopBack {
		revise[k] = v
	}

	err := errors.Join(
		g.AddEdge(PhaseFetchMetrics, PhasePlanCalendar),
		g.AddEdge(PhasePlanCalendar, PhaseCreateBrief),
		g.AddEdge(PhaseCreateBrief, PhaseApproveBrief),
		g.AddConditionalEdge(PhaseApproveBrief, decision, map[string]string{
			routeApproved: PhaseGenerateCopy,
			routeRejected: PhaseRework,
		}),
		g.AddEdge(PhaseGenerateCopy, PhaseDesign),
		g.AddEdge(PhaseDesign, PhaseQAReview),
		g.AddConditionalEdge(PhaseQAReview, verdict, map[string]string{
			routePass:   PhaseFinalApproval,
			routeRevise: PhaseRevise,
		}),
		g.AddConditionalEdge(PhaseRevise, revision.Next, revise),
		g.AddConditionalEdge(PhaseFinalApproval, decision, map[string]string{
			routeApproved: PhasePackage,
			routeRejected: PhaseRework,
		}),
		g.AddConditionalEdge(PhaseRework, revision.Next, loopBack),
		g.AddEdge(PhasePackage, engine.End),
		g.SetEntry(PhaseFetchMetrics),
	)
	if err != nil {
		return nil, err
	}
	return g, g.Validate()
}

func decision(s *domain.RunState) string {
	if last := s.LastApproval(); last != nil && last.Status.IsApproval() {
		return routeApproved
	}
	return routeRejected
}

func verdict(s *domain.RunState) string {
	if s.QAResult.Passed() {
		return routePass
	}
	return routeRevise
}

func staged(stage string, fn engine.PhaseFunc) engine.PhaseFunc {
	return func(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
		s.Stage = stage
		return fn(ctx, s)
	}
}

type phases struct {
	cfg Config
}

func (p *phases) fetchMetrics(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
	snap, err := p.cfg.Metrics.Snapshot(ctx, s.TenantID, s.BrandID)
	if err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}
	return s, p.put(s, domain.ArtifactPerformanceSnapshot, "", snap)
}

func (p *phases) planCalendar(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
	in, err := input(s)
	if err != nil {
		return nil, err
	}
	cal, err := p.cfg.Generator.Calendar(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("plan calendar: %w", err)
	}
	return s, p.put(s, domain.ArtifactContentCalendar, p.cfg.Generator.Model(), cal)
}

func (p *phases) createBrief(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
	in, err := input(s)
	if err != nil {
		return nil, err
	}
	brief, err := p.cfg.Generator.Brief(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("create brief: %w", err)
	}
	return s, p.put(s, domain.ArtifactCampaignBrief, p.cfg.Generator.Model(), brief)
}

func (p *phases) generateCopy(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
	in, err := input(s)
	if err != nil {
		return nil, err
	}
	if in.Brief == nil {
		return nil, fmt.Errorf("%w: copy needs an approved brief", domain.ErrInvalidState)
	}
	packet, err := p.cfg.Generator.Copy(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("generate copy: %w", err)
	}
	return s, p.put(s, domain.ArtifactCopyPacket, p.cfg.Generator.Model(), packet)
}

func (p *phases) design(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
	in, err := input(s)
	if err != nil {
		return nil, err
	}
	spec, err := p.cfg.Generator.Design(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("design: %w", err)
	}
	return s, p.put(s, domain.ArtifactDesignSpec, p.cfg.Generator.Model(), spec)
}

func (p *phases) qaReview(ctx context.Context, s *domain.RunState) (*domain.RunState, error) {
	in := QAInput{Params: s.Params}
	if err := decode(s, domain.ArtifactCampaignBrief, &in.Brief); err != nil {
		return nil, err
	}
	if err := decode(s, domain.ArtifactCopyPacket, &in.Copy); err != nil {
		return nil, err
	}
	if err := decode(s, domain.ArtifactDesignSpec, &in.Design); err != nil {
		return nil, err
	}

	res, err := p.cfg.QA.Evaluate(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("qa review: %w", err)
	}
	s.QAResult = res
	return s, p.put(s, domain.ArtifactQAReport, "", res)
}

func (p *phases) gate(t domain.ArtifactType, role string) engine.PhaseFunc {
	return func(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
		if err := s.RequestApproval(t, role, p.cfg.ApprovalTimeout); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (p *phases) pack(_ context.Context, s *domain.RunState) (*domain.RunState, error) {
	pkg := &CampaignPackage{Revisions: s.RevisionCount}
	for _, a := range s.ArtifactList() {
		pkg.Items = append(pkg.Items, PackageItem{Type: string(a.Type), ArtifactID: a.ID, Version: a.Version})
	}
	for _, r := range s.ApprovalHistory {
		pkg.Approvals = append(pkg.Approvals, fmt.Sprintf("%s %s by %s", r.ArtifactType, r.Status, r.DecidedBy))
	}
	if fo := s.ForcedOverride; fo != nil {
		pkg.Caveats = append(pkg.Caveats, fmt.Sprintf("quality check %s overridden after %d revisions: %s",
			fo.OriginalVerdict, fo.RevisionCount, fo.Reason))
	}
	return s, p.put(s, domain.ArtifactCampaignPackage, "", pkg)
}

func (p *phases) put(s *domain.RunState, t domain.ArtifactType, model string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	s.PutArtifact(domain.NewArtifact(id.NewArtifactID(s.RunID), t, s.RunID, s.CurrentPhase, model, data))
	return nil
}

func input(s *domain.RunState) (Input, error) {
	in := Input{
		RunID:    s.RunID,
		BrandID:  s.BrandID,
		Params:   s.Params,
		Feedback: s.Feedback,
	}
	err := errors.Join(
		decode(s, domain.ArtifactPerformanceSnapshot, &in.Snapshot),
		decode(s, domain.ArtifactContentCalendar, &in.Calendar),
		decode(s, domain.ArtifactCampaignBrief, &in.Brief),
		decode(s, domain.ArtifactCopyPacket, &in.Copy),
	)
	return in, err
}

// decode fills *dst from the current artifact of type t, leaving it nil
// when the run has none.
func decode[T any](s *domain.RunState, t domain.ArtifactType, dst **T) error {
	a := s.Artifact(t)
	if a == nil {
		return nil
	}
	v := new(T)
	if err := a.Decode(v); err != nil {
		return fmt.Errorf("decode %s artifact %s: %w", t, a.ID, err)
	}
	*dst = v
	return nil
}
