package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixedIDs(t *testing.T) {
	run := NewRunID()
	assert.True(t, strings.HasPrefix(run, "run-"))
	assert.True(t, Valid(run))

	apr := NewApprovalID()
	assert.True(t, strings.HasPrefix(apr, "apr-"))
	assert.True(t, Valid(apr))

	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestArtifactIDScopedToRun(t *testing.T) {
	a := NewArtifactID("run-1")
	assert.True(t, strings.HasPrefix(a, "run-1/"))
	assert.Len(t, a, len("run-1/")+8)
}

func TestValidRejectsForeignIDs(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("run-"))
	assert.False(t, Valid("run-not-a-uuid"))
	assert.False(t, Valid(Generate()))
}
