package metrics

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

func TestCounters(t *testing.T) {
	m := New()

	m.ItemProcessed()
	m.ItemProcessed()
	m.ItemSkipped()
	m.BatchFinished(time.Now(), nil)
	m.BatchFinished(time.Now(), errors.New("cancelled"))
	m.Request(http.MethodPost, "/api/v1/batches", 200)
	m.Request(http.MethodGet, "", 404)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.items.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ItemProcessed()
		m.ItemSkipped()
		m.BatchFinished(time.Now(), nil)
		m.ObserveStage(StageNormalize, time.Now())
		m.Request("GET", "/", 200)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveStage(StageComposite, time.Now().Add(-time.Second))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `photomaster_stage_duration_seconds_count{stage="composite"} 1`)
}
