// Package id generates identifiers for runs, approval requests and
// artifacts.
package id

import (
	"github.com/google/uuid"
)

// Generate generates a new unique ID.
func Generate() string {
	return uuid.New().String()
}

// GenerateShort generates a shorter unique ID (first 8 chars of UUID).
func GenerateShort() string {
	return uuid.New().String()[:8]
}

// NewRunID returns an identifier for a new workflow run.
func NewRunID() string {
	return "run-" + Generate()
}

// NewApprovalID returns an identifier for an approval request.
func NewApprovalID() string {
	return "apr-" + Generate()
}

// NewArtifactID returns an identifier for an artifact. Artifacts are
// scoped to their run, so the short form is enough.
func NewArtifactID(runID string) string {
	return runID + "/" + GenerateShort()
}

// Valid reports whether s is a run or approval id produced by this package.
func Valid(s string) bool {
	for _, prefix := range []string{"run-", "apr-"} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			_, err := uuid.Parse(s[len(prefix):])
			return err == nil
		}
	}
	return false
}
