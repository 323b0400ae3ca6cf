package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Draft("tasks", "ok")
	m.Draft("tasks", "ok")
	m.Transition("tasks", "applied")
	m.Repairs("tasks", 2)
	m.Repairs("tasks", 0)
	m.ObserveModel("tasks", 300*time.Millisecond)
	m.Error("apply", "TOKEN_MISMATCH")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DraftsTotal.WithLabelValues("tasks", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RepairsTotal.WithLabelValues("tasks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("apply", "TOKEN_MISMATCH")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `kairos_draft_transitions_total{agent="tasks",status="applied"} 1`), body)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Draft("tasks", "ok")
	m.Transition("tasks", "applied")
	m.ObserveApply("tasks", time.Second)
	m.Error("draft", "INTERNAL")
	assert.Nil(t, m.Registry())
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
