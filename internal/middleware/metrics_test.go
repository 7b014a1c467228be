package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockHTTPMetrics struct {
	statuses  []int
	latencies []time.Duration
}

func (m *mockHTTPMetrics) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockHTTPMetrics) RecordRequestLatency(d time.Duration) {
	m.latencies = append(m.latencies, d)
}

func TestMetricsMiddleware_RecordsStatusAndLatency(t *testing.T) {
	m := &mockHTTPMetrics{}
	handler := NewMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/leads", nil))

	if len(m.statuses) != 1 || m.statuses[0] != http.StatusCreated {
		t.Errorf("statuses = %v, want [201]", m.statuses)
	}
	if len(m.latencies) != 1 || m.latencies[0] < 0 {
		t.Errorf("latencies = %v", m.latencies)
	}
}

func TestMetricsMiddleware_DefaultStatusIsOK(t *testing.T) {
	m := &mockHTTPMetrics{}
	handler := NewMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if len(m.statuses) != 1 || m.statuses[0] != http.StatusOK {
		t.Errorf("statuses = %v, want [200]", m.statuses)
	}
}
