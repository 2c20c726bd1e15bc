package campaign

import "time"

// ChannelMetric is the recent performance of one distribution channel.
type ChannelMetric struct {
	Channel     string  `json:"channel"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	CTR         float64 `json:"ctr"`
}

// PerformanceSnapshot is the payload of a PERFORMANCE_SNAPSHOT artifact.
type PerformanceSnapshot struct {
	TenantID    string          `json:"tenant_id"`
	BrandID     string          `json:"brand_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Channels    []ChannelMetric `json:"channels"`
}

// Best returns the channel with the highest click-through rate.
func (p *PerformanceSnapshot) Best() string {
	best, rate := "", -1.0
	for _, c := range p.Channels {
		if c.CTR > rate {
			best, rate = c.Channel, c.CTR
		}
	}
	return best
}

// CalendarEntry schedules one piece of content.
type CalendarEntry struct {
	Date    time.Time `json:"date"`
	Channel string    `json:"channel"`
	Theme   string    `json:"theme"`
}

// ContentCalendar is the payload of a CONTENT_CALENDAR artifact.
type ContentCalendar struct {
	Entries []CalendarEntry `json:"entries"`
}

// CampaignBrief is the payload of a CAMPAIGN_BRIEF artifact.
type CampaignBrief struct {
	Title       string   `json:"title"`
	Objective   string   `json:"objective"`
	Audience    string   `json:"audience"`
	KeyMessages []string `json:"key_messages"`
	Tone        string   `json:"tone"`
	Channels    []string `json:"channels"`
	Addressed   []string `json:"addressed_feedback,omitempty"`
}

// CopyPacket is the payload of a COPY_PACKET artifact.
type CopyPacket struct {
	Headline  string   `json:"headline"`
	Body      string   `json:"body"`
	CTA       string   `json:"cta"`
	Variants  []string `json:"variants,omitempty"`
	Addressed []string `json:"addressed_feedback,omitempty"`
}

// DesignAsset is one visual element of a design.
type DesignAsset struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	AltText string `json:"alt_text,omitempty"`
}

// DesignSpec is the payload of a DESIGN_SPEC artifact.
type DesignSpec struct {
	Layout    string        `json:"layout"`
	Palette   []string      `json:"palette"`
	Assets    []DesignAsset `json:"assets"`
	Addressed []string      `json:"addressed_feedback,omitempty"`
}

// PackageItem references one artifact included in the final package.
type PackageItem struct {
	Type       string `json:"type"`
	ArtifactID string `json:"artifact_id"`
	Version    int    `json:"version"`
}

// CampaignPackage is the payload of a CAMPAIGN_PACKAGE artifact.
type CampaignPackage struct {
	Items     []PackageItem `json:"items"`
	Revisions int           `json:"revisions"`
	Approvals []string      `json:"approvals"`
	Caveats   []string      `json:"caveats,omitempty"`
}
