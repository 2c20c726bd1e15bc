package campaign

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/example/campaignflow/internal/domain"
)

// MetricsSource supplies recent channel performance for a brand.
type MetricsSource interface {
	Snapshot(ctx context.Context, tenantID, brandID string) (*PerformanceSnapshot, error)
}

// Input is what a generator gets for one phase.
type Input struct {
	RunID    string
	BrandID  string
	Params   map[string]string
	Feedback []string
	Snapshot *PerformanceSnapshot
	Calendar *ContentCalendar
	Brief    *CampaignBrief
	Copy     *CopyPacket
}

// ContentGenerator produces the creative artifacts.
type ContentGenerator interface {
	Calendar(ctx context.Context, in Input) (*ContentCalendar, error)
	Brief(ctx context.Context, in Input) (*CampaignBrief, error)
	Copy(ctx context.Context, in Input) (*CopyPacket, error)
	Design(ctx context.Context, in Input) (*DesignSpec, error)
	// Model names the generator in artifact provenance.
	Model() string
}

// QAInput is the material a QA evaluator reviews.
type QAInput struct {
	Params map[string]string
	Brief  *CampaignBrief
	Copy   *CopyPacket
	Design *DesignSpec
}

// QAEvaluator reviews the creative artifacts.
type QAEvaluator interface {
	Evaluate(ctx context.Context, in QAInput) (*domain.QAResult, error)
}

// Parameters read by the dev collaborators.
const (
	ParamProduct     = "product"
	ParamAudience    = "audience"
	ParamObjective   = "objective"
	ParamBannedWords = "banned_words"
	ParamSkipAltText = "skip_alt_text"
	ParamStartDate   = "start_date"
	ParamClaim       = "claim"
)

// DevMetrics derives stable pseudo metrics from the brand id.
type DevMetrics struct {
	Now func() time.Time
}

func (m DevMetrics) Snapshot(_ context.Context, tenantID, brandID string) (*PerformanceSnapshot, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	end := now().UTC().Truncate(24 * time.Hour)

	snap := &PerformanceSnapshot{
		TenantID:    tenantID,
		BrandID:     brandID,
		PeriodStart: end.AddDate(0, 0, -28),
		PeriodEnd:   end,
	}
	for _, ch := range []string{"email", "social", "search"} {
		h := fnv.New64a()
		_, _ = h.Write([]byte(brandID + "/" + ch))
		seed := h.Sum64()

		impressions := int64(10_000 + seed%90_000)
		clicks := int64(100 + (seed>>16)%2_000)
		snap.Channels = append(snap.Channels, ChannelMetric{
			Channel:     ch,
			Impressions: impressions,
			Clicks:      clicks,
			Conversions: clicks / int64(5+(seed>>32)%20),
			CTR:         float64(clicks) / float64(impressions),
		})
	}
	return snap, nil
}

// DevGenerator builds deterministic artifacts from run parameters. Output
// produced with feedback present drops banned and non-compliant wording.
type DevGenerator struct{}

func (DevGenerator) Model() string { return "dev-template" }

func (DevGenerator) Calendar(_ context.Context, in Input) (*ContentCalendar, error) {
	start := time.Now().UTC().Truncate(24 * time.Hour)
	if s := in.Params[ParamStartDate]; s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("%w: start_date: %v", domain.ErrInvalidArgument, err)
		}
		start = t
	}

	channels := []string{"email", "social", "search"}
	if in.Snapshot != nil {
		if best := in.Snapshot.Best(); best != "" {
			channels = append([]string{best}, without(channels, best)...)
		}
	}
	cal := &ContentCalendar{}
	for i := 0; i < 6; i++ {
		cal.Entries = append(cal.Entries, CalendarEntry{
			Date:    start.AddDate(0, 0, 7*(i/2)),
			Channel: channels[i%len(channels)],
			Theme:   fmt.Sprintf("%s week %d", param(in.Params, ParamProduct, "launch"), i/2+1),
		})
	}
	return cal, nil
}

func (DevGenerator) Brief(_ context.Context, in Input) (*CampaignBrief, error) {
	product := param(in.Params, ParamProduct, "our product")
	brief := &CampaignBrief{
		Title:     fmt.Sprintf("%s campaign for %s", capitalize(product), in.BrandID),
		Objective: param(in.Params, ParamObjective, "awareness"),
		Audience:  param(in.Params, ParamAudience, "existing customers"),
		KeyMessages: []string{
			fmt.Sprintf("%s saves you time", product),
			fmt.Sprintf("%s fits how you already work", product),
		},
		Tone:      "confident",
		Addressed: append([]string(nil), in.Feedback...),
	}
	if in.Calendar != nil {
		seen := map[string]bool{}
		for _, e := range in.Calendar.Entries {
			if !seen[e.Channel] {
				seen[e.Channel] = true
				brief.Channels = append(brief.Channels, e.Channel)
			}
		}
	}
	return brief, nil
}

func (DevGenerator) Copy(_ context.Context, in Input) (*CopyPacket, error) {
	product := param(in.Params, ParamProduct, "our product")
	body := fmt.Sprintf("Meet %s, made for %s.", product, param(in.Params, ParamAudience, "everyone"))
	if claim := in.Params[ParamClaim]; claim != "" {
		body += " " + claim
	}
	if in.Brief != nil && len(in.Brief.KeyMessages) > 0 {
		body += " " + strings.Join(in.Brief.KeyMessages, ". ") + "."
	}
	packet := &CopyPacket{
		Headline: fmt.Sprintf("Say hello to %s", product),
		Body:     body,
		CTA:      "Learn more",
	}
	if len(in.Feedback) > 0 {
		packet.Body = scrub(packet.Body, append(complianceTerms, bannedWords(in.Params)...))
		packet.Headline = scrub(packet.Headline, bannedWords(in.Params))
		packet.Addressed = append([]string(nil), in.Feedback...)
	}
	packet.Variants = []string{packet.Headline + " today", "Try " + product}
	return packet, nil
}

func (DevGenerator) Design(_ context.Context, in Input) (*DesignSpec, error) {
	spec := &DesignSpec{
		Layout:  "hero-left",
		Palette: []string{"#0B3D91", "#FFFFFF", "#F2A900"},
		Assets: []DesignAsset{
			{Name: "hero", Kind: "image", AltText: "Product shown in use"},
			{Name: "logo", Kind: "image", AltText: "Brand logo"},
		},
	}
	if in.Params[ParamSkipAltText] == "true" && len(in.Feedback) == 0 {
		for i := range spec.Assets {
			spec.Assets[i].AltText = ""
		}
	}
	if len(in.Feedback) > 0 {
		spec.Addressed = append([]string(nil), in.Feedback...)
	}
	return spec, nil
}

// complianceTerms are claims the dev QA evaluator always rejects.
var complianceTerms = []string{"guaranteed", "risk-free", "cure"}

// DevQA is a rule-based evaluator over the dev artifacts.
type DevQA struct {
	// Threshold is the minimum passing accessibility score.
	Threshold float64
}

func (q DevQA) Evaluate(_ context.Context, in QAInput) (*domain.QAResult, error) {
	if in.Copy == nil || in.Design == nil {
		return nil, fmt.Errorf("%w: copy and design are required for review", domain.ErrInvalidArgument)
	}
	threshold := q.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}

	res := &domain.QAResult{AccessibilityScore: accessibility(in.Design)}
	text := strings.ToLower(in.Copy.Headline + " " + in.Copy.Body)
	for _, w := range bannedWords(in.Params) {
		if strings.Contains(text, w) {
			res.BrandViolations = append(res.BrandViolations, fmt.Sprintf("uses banned word %q", w))
		}
	}
	for _, w := range complianceTerms {
		if strings.Contains(text, w) {
			res.ComplianceViolations = append(res.ComplianceViolations, fmt.Sprintf("unsupported claim %q", w))
		}
	}
	if len(in.Copy.Headline) > 60 {
		res.ContentWarnings = append(res.ContentWarnings, "headline longer than 60 characters")
	}
	if strings.Count(in.Copy.Body, "!") > 1 {
		res.ContentWarnings = append(res.ContentWarnings, "too many exclamation marks")
	}

	res.Verdict = domain.QAVerdictApproved
	if len(res.BrandViolations)+len(res.ComplianceViolations)+len(res.ContentWarnings) > 0 || res.AccessibilityScore < threshold {
		res.Verdict = domain.QAVerdictRejected
	}
	res.Summary = summarize(res)
	return res, nil
}

func accessibility(d *DesignSpec) float64 {
	if len(d.Assets) == 0 {
		return 1
	}
	described := 0
	for _, a := range d.Assets {
		if a.AltText != "" {
			described++
		}
	}
	return 0.5 + 0.5*float64(described)/float64(len(d.Assets))
}

func summarize(r *domain.QAResult) string {
	var parts []string
	parts = append(parts, r.BrandViolations...)
	parts = append(parts, r.ComplianceViolations...)
	parts = append(parts, r.ContentWarnings...)
	if r.AccessibilityScore < 1 {
		parts = append(parts, fmt.Sprintf("accessibility score %.2f", r.AccessibilityScore))
	}
	return strings.Join(parts, "; ")
}

func bannedWords(params map[string]string) []string {
	var out []string
	for _, w := range strings.Split(params[ParamBannedWords], ",") {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func scrub(s string, words []string) string {
	for _, w := range words {
		for {
			i := strings.Index(strings.ToLower(s), w)
			if i < 0 {
				break
			}
			s = s[:i] + s[i+len(w):]
		}
	}
	s = strings.ReplaceAll(s, "!", ".")
	return strings.Join(strings.Fields(s), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func param(params map[string]string, key, def string) string {
	if v := params[key]; v != "" {
		return v
	}
	return def
}

func without(in []string, drop string) []string {
	var out []string
	for _, s := range in {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
