package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePhase("design", "ok", time.Second)
		m.RunStarted()
		m.RunStopped("COMPLETED")
		m.ObserveCheckpointOp("grpc", "put", nil, time.Millisecond)
		m.TransportSelected("http", true)
		m.ApprovalRequested()
		m.ApprovalDecided("APPROVED", "human")
		m.ObserveRPC("grpc", "Get", "OK", time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m := NewMetrics()

	m.RunStarted()
	m.RunStarted()
	m.RunStopped("PAUSED")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("PAUSED")))

	m.TransportSelected("http", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportSelections.WithLabelValues("http", "true")))

	m.ObserveCheckpointOp("grpc", "get", errors.New("boom"), time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.checkpointOpDuration))
}

func TestServeHTTP(t *testing.T) {
	m := NewMetrics()
	m.ApprovalDecided("REJECTED", "system")

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `campaignflow_approval_decisions_total{decider="system",status="REJECTED"} 1`)
}
