package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestMetricsRegistered verifies that every metric is visible through the
// default gatherer once it has been observed.
func TestMetricsRegistered(t *testing.T) {
	RequestsTotal.WithLabelValues("GET", "2xx").Inc()
	RequestDuration.WithLabelValues("GET").Observe(0.1)
	DiscoveryRequestsTotal.WithLabelValues("hit").Inc()
	DiscoveryBuildDuration.Observe(0.01)
	DiscoveryInvalidationsTotal.Inc()
	ToolExecutionsTotal.WithLabelValues("srv", "tool", "success").Inc()
	ToolExecutionDuration.WithLabelValues("srv", "tool").Observe(0.2)
	ExecutionLimitRejectionsTotal.WithLabelValues("session").Inc()
	HealthChecksTotal.WithLabelValues("srv", "ok").Inc()
	ServerConsecutiveFailures.WithLabelValues("srv").Set(0)
	ServerAutoDisabledTotal.WithLabelValues("srv").Inc()
	CoordinatorTurnsTotal.WithLabelValues("openai", "text").Inc()
	ProviderLatency.WithLabelValues("openai").Observe(1)
	AuthRejectedTotal.WithLabelValues("forbidden").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"toolbridge_requests_total":                   false,
		"toolbridge_request_duration_seconds":         false,
		"toolbridge_streaming_connections_active":     false,
		"toolbridge_discovery_requests_total":         false,
		"toolbridge_discovery_build_duration_seconds": false,
		"toolbridge_discovery_invalidations_total":    false,
		"toolbridge_tool_executions_total":            false,
		"toolbridge_tool_execution_duration_seconds":  false,
		"toolbridge_tool_executions_active":           false,
		"toolbridge_execution_limit_rejections_total": false,
		"toolbridge_server_health_checks_total":       false,
		"toolbridge_server_consecutive_failures":      false,
		"toolbridge_server_auto_disabled_total":       false,
		"toolbridge_coordinator_turns_total":          false,
		"toolbridge_provider_latency_seconds":         false,
		"toolbridge_auth_rejected_total":              false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestMiddlewareRecordsStatusClass(t *testing.T) {
	tests := []struct {
		method string
		status int
		class  string
	}{
		{"GET", http.StatusOK, "2xx"},
		{"POST", http.StatusBadRequest, "4xx"},
		{"DELETE", http.StatusServiceUnavailable, "5xx"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			before := counterValue(t, RequestsTotal, tt.method, tt.class)
			beforeObs := histogramCount(t, RequestDuration, tt.method)

			handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, "/v1/tools", nil))

			if d := counterValue(t, RequestsTotal, tt.method, tt.class) - before; d != 1 {
				t.Errorf("request count delta = %f, want 1", d)
			}
			if d := histogramCount(t, RequestDuration, tt.method) - beforeObs; d != 1 {
				t.Errorf("duration sample delta = %d, want 1", d)
			}
		})
	}
}

func TestMiddlewareStreamingGauge(t *testing.T) {
	baseline := gaugeValue(t, StreamingConnections)

	var beforeHeader, afterHeader float64
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beforeHeader = gaugeValue(t, StreamingConnections)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		afterHeader = gaugeValue(t, StreamingConnections)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/chat", nil))

	if beforeHeader != baseline {
		t.Errorf("gauge before headers = %f, want %f", beforeHeader, baseline)
	}
	if afterHeader != baseline+1 {
		t.Errorf("gauge while streaming = %f, want %f", afterHeader, baseline+1)
	}
	if after := gaugeValue(t, StreamingConnections); after != baseline {
		t.Errorf("gauge after request = %f, want %f", after, baseline)
	}
}

func TestMiddlewarePlainResponseNotStreaming(t *testing.T) {
	baseline := gaugeValue(t, StreamingConnections)
	var during float64
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
		during = gaugeValue(t, StreamingConnections)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/tools", nil))
	if during != baseline {
		t.Errorf("gauge during JSON response = %f, want %f", during, baseline)
	}
}

func TestResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.Flush()
	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
	if http.NewResponseController(rw).Flush() != nil {
		t.Error("response controller cannot reach the underlying flusher")
	}
}

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting histogram metric: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("writing gauge metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
