package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/recordings/internal/metrics"
)

func TestCountersExposed(t *testing.T) {
	m := metrics.New()
	m.StartOutcome(metrics.StartConflict)
	m.StartOutcome(metrics.StartConflict)
	m.LockReleased(metrics.ReleaseGC)

	n, err := testutil.GatherAndCount(m.Registry(), "recording_start_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `recording_start_total{outcome="conflict"} 2`))
	assert.True(t, strings.Contains(body, `recording_lock_released_total{reason="gc"} 1`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.StartOutcome(metrics.StartStarted)
		m.Sweep("ok")
		m.LockEvaluated("kept")
		m.LockReleased(metrics.ReleaseTerminal)
	})
}
