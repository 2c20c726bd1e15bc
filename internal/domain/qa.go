package domain

import "time"

// QAVerdict is the outcome of an automated quality check.
type QAVerdict string

const (
	QAVerdictApproved          QAVerdict = "APPROVED"
	QAVerdictApprovedWithFixes QAVerdict = "APPROVED_WITH_FIXES"
	QAVerdictRejected          QAVerdict = "REJECTED"
)

// QAResult is what a QA evaluator reports about the current artifacts.
type QAResult struct {
	Verdict              QAVerdict `json:"verdict" msgpack:"verdict"`
	BrandViolations      []string  `json:"brand_violations,omitempty" msgpack:"brand_violations,omitempty"`
	ComplianceViolations []string  `json:"compliance_violations,omitempty" msgpack:"compliance_violations,omitempty"`
	ContentWarnings      []string  `json:"content_warnings,omitempty" msgpack:"content_warnings,omitempty"`
	AccessibilityScore   float64   `json:"accessibility_score" msgpack:"accessibility_score"`
	Summary              string    `json:"summary,omitempty" msgpack:"summary,omitempty"`
}

// Passed returns true when the artifacts may proceed without revision.
func (q *QAResult) Passed() bool {
	return q != nil && (q.Verdict == QAVerdictApproved || q.Verdict == QAVerdictApprovedWithFixes)
}

// RejectionReason summarises why the result is a rejection.
func (q *QAResult) RejectionReason() string {
	switch {
	case q == nil:
		return ""
	case q.Summary != "":
		return q.Summary
	case len(q.BrandViolations) > 0:
		return "brand violation: " + q.BrandViolations[0]
	case len(q.ComplianceViolations) > 0:
		return "compliance violation: " + q.ComplianceViolations[0]
	case len(q.ContentWarnings) > 0:
		return "content warning: " + q.ContentWarnings[0]
	default:
		return "rejected by quality check"
	}
}

// Clone returns a deep copy.
func (q *QAResult) Clone() *QAResult {
	if q == nil {
		return nil
	}
	c := *q
	c.BrandViolations = cloneStrings(q.BrandViolations)
	c.ComplianceViolations = cloneStrings(q.ComplianceViolations)
	c.ContentWarnings = cloneStrings(q.ContentWarnings)
	return &c
}

// ForcedOverride is recorded when a rejection arrives after the revision
// cap and the run is pushed through as approved-with-fixes instead.
type ForcedOverride struct {
	Reason          string    `json:"reason" msgpack:"reason"`
	OriginalVerdict QAVerdict `json:"original_verdict" msgpack:"original_verdict"`
	RevisionCount   int       `json:"revision_count" msgpack:"revision_count"`
	At              time.Time `json:"at" msgpack:"at"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
