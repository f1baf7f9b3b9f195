package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if m.registry == nil {
		t.Error("registry should not be nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "go_") {
		t.Error("expected Go runtime metrics in response")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics in response")
	}
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.RecordAPIRequest("GET", "/runs", "200", 0.5)
	m.RecordRunComplete("completed", "gpt-4", 60.0)
	m.RecordBatchComplete("succeeded")
	m.RecordBatchRetry("timeout")
	m.RecordScorerDuration(0.01)
	m.RecordEvaluationComplete("done")
	m.SetActiveRuns(3)
	m.SetQueueDepth(5)
	m.RecordQueueWait(1.2)
	m.SetEvaluatorQueueDepth(2)
	m.SetCollectionSize("nightly", 12)
	m.SetWebSocketConnections(4)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body := w.Body.String()
	expected := []string{
		"harness_http_requests_total",
		"harness_run_runs_total",
		"harness_batch_batches_total",
		"harness_batch_retries_total",
		"harness_scorer_duration_seconds",
		"harness_evaluator_evaluations_total",
		"harness_collection_member_count",
		"harness_websocket_connections_active",
	}
	for _, metric := range expected {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %s in response", metric)
		}
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := NewMetrics()

	registry := m.Registry()
	if registry == nil {
		t.Error("Registry() should not return nil")
	}

	families, err := registry.Gather()
	if err != nil {
		t.Errorf("failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least some metric families")
	}
}
