package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ElectionsOpened.Inc()
	m.ElectionsActive.Inc()
	m.RecordVote(true)
	m.RecordVote(false)
	m.RecordConclusion(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ElectionsOpened))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ElectionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesCast.WithLabelValues("for")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesCast.WithLabelValues("against")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ElectionsConcluded.WithLabelValues("rejected")))

	m.Observe("cast_vote", time.Now(), errors.New("closed"))
	m.Observe("cast_vote", time.Now(), nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("cast_vote")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationLatency))
}

func TestEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.CertificatesIssued.Inc()

	var notReady error
	mux := http.NewServeMux()
	NewEndpoint(registry, func() error { return notReady }, nil).RegisterHandlers(mux)

	tests := []struct {
		name       string
		path       string
		setup      func()
		wantStatus int
		wantBody   string
	}{
		{"live", "/health/live", nil, http.StatusOK, "OK"},
		{"ready", "/health/ready", nil, http.StatusOK, "READY"},
		{"not ready", "/health/ready", func() { notReady = errors.New("store closed") }, http.StatusServiceUnavailable, "NOT READY"},
		{"metrics", "/metrics", nil, http.StatusOK, "accredit_certificates_issued_total 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestAlertingRules(t *testing.T) {
	rules := AlertingRules()
	require.NotEmpty(t, rules)
	assert.True(t, strings.Contains(rules, "accredit_registry_trust_failures_total"))
}
