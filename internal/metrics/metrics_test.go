package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RateLimitDecision("signup", true)
	m.RateLimitDecision("signup", false)
	m.RateLimitDecision("signup", false)
	m.AnalysisJobEnqueued()
	m.AnalysisQueueFailure()
	m.AnalysisJobPublished(nil)
	m.AnalysisJobPublished(errors.New("broker down"))
	m.MessageSaved("user")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitDecisions.WithLabelValues("signup", DecisionAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rateLimitDecisions.WithLabelValues("signup", DecisionRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsPublished.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("user")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RateLimitDecision("signup", true)
		m.AnalysisJobEnqueued()
		m.AnalysisQueueFailure()
		m.AnalysisJobPublished(nil)
		m.MessageSaved("user")
		m.HTTPRequest(http.MethodGet, 200, 0.1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.HTTPRequest(http.MethodPost, 201, 0.02)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `noria_http_requests_total{method="POST",status="201"} 1`)
}
