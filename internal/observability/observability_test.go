package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/llm"
	"github.com/jkaninda/ngao/internal/security"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize some metrics so they appear in Gather (CounterVec only appears after first use).
	m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "success").Inc()
	m.SandboxExecutionsTotal.WithLabelValues("success").Inc()
	m.SecurityChecksTotal.WithLabelValues("file_access", "allowed").Inc()
	m.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	m.AuditEventsTotal.WithLabelValues("invocation_attempt").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"ngao_llm_requests_total",
		"ngao_sandbox_executions_total",
		"ngao_security_checks_total",
		"ngao_ratelimit_decisions_total",
		"ngao_security_audit_events_total",
		"ngao_http_requests_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	// Increment a counter.
	m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("openai", "gpt-4o", "error").Inc()

	// Gather and verify.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "ngao_llm_requests_total" {
			found = true
			for _, metric := range f.GetMetric() {
				labels := labelMap(metric.GetLabel())
				if labels["status"] == "success" {
					if got := metric.GetCounter().GetValue(); got != 2 {
						t.Errorf("success count = %v, want 2", got)
					}
				}
				if labels["status"] == "error" {
					if got := metric.GetCounter().GetValue(); got != 1 {
						t.Errorf("error count = %v, want 1", got)
					}
				}
			}
		}
	}
	if !found {
		t.Error("ngao_llm_requests_total not found")
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return nil })
	h.AddCheck("provider", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["db"].Status != "ok" {
		t.Errorf("db check = %q, want ok", status.Checks["db"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("provider", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "fail" {
		t.Errorf("db check = %q, want fail", status.Checks["db"].Status)
	}
	if status.Checks["db"].Message != "connection refused" {
		t.Errorf("db message = %q, want connection refused", status.Checks["db"].Message)
	}
	if status.Checks["provider"].Status != "ok" {
		t.Errorf("provider check = %q, want ok", status.Checks["provider"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- InstrumentedProvider (wrapper) ---

type mockProvider struct {
	name   string
	resp   *llm.Response
	err    error
	called int
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.called++
	return m.resp, m.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "openai",
		resp: &llm.Response{
			Content: "hello",
			Usage:   llm.Usage{InputTokens: 10, OutputTokens: 20},
		},
	}

	p := NewInstrumentedProvider(inner, "gpt-4o", metrics, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q, want hello", resp.Content)
	}
	if inner.called != 1 {
		t.Errorf("inner called %d times, want 1", inner.called)
	}

	// Verify metrics recorded.
	val := counterValue(t, metrics.Registry, "ngao_llm_requests_total", prometheus.Labels{"provider": "openai", "model": "gpt-4o", "status": "success"})
	if val != 1 {
		t.Errorf("requests_total = %v, want 1", val)
	}
	tokens := counterValue(t, metrics.Registry, "ngao_llm_tokens_used_total", prometheus.Labels{"provider": "openai", "model": "gpt-4o", "direction": "output"})
	if tokens != 20 {
		t.Errorf("output tokens = %v, want 20", tokens)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "openai",
		err:  errors.New("api error"),
	}

	p := NewInstrumentedProvider(inner, "gpt-4o", metrics, nil)
	_, err := p.SendMessage(context.Background(), &llm.Request{})
	if err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "ngao_llm_requests_total", prometheus.Labels{"provider": "openai", "model": "gpt-4o", "status": "error"})
	if val != 1 {
		t.Errorf("error requests_total = %v, want 1", val)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	inner := &mockProvider{
		name: "openai",
		resp: &llm.Response{Content: "ok"},
	}

	// nil metrics, should not panic.
	p := NewInstrumentedProvider(inner, "gpt-4o", nil, nil)
	resp, err := p.SendMessage(context.Background(), &llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q, want ok", resp.Content)
	}
}

func TestInstrumentedProvider_StreamFallback(t *testing.T) {
	// Inner provider does not stream, so the wrapper buffers through the adapter.
	metrics := NewMetricsCollector()
	inner := &mockProvider{
		name: "openai",
		resp: &llm.Response{Content: "streamed", StopReason: "end_turn"},
	}

	p := NewInstrumentedProvider(inner, "gpt-4o", metrics, nil)

	events := make(chan llm.StreamEvent, 8)
	if err := p.StreamMessage(context.Background(), &llm.Request{}, events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawDone bool
	for ev := range events {
		switch ev.Type {
		case "text":
			text += ev.Content
		case "done":
			sawDone = true
		}
	}
	if text != "streamed" {
		t.Errorf("text = %q, want streamed", text)
	}
	if !sawDone {
		t.Error("expected done event")
	}

	val := counterValue(t, metrics.Registry, "ngao_llm_requests_total", prometheus.Labels{"provider": "openai", "model": "gpt-4o", "status": "success"})
	if val != 1 {
		t.Errorf("requests_total = %v, want 1", val)
	}
}

// --- InstrumentedSandbox (wrapper) ---

type mockRunner struct {
	result map[string]any
	err    error
}

func (m *mockRunner) Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error) {
	return m.result, m.err
}

func TestInstrumentedSandbox_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockRunner{result: map[string]any{"stdout": "4"}}

	s := NewInstrumentedSandbox(inner, metrics, nil)
	result, err := s.Execute(context.Background(), "print(2+2)", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["stdout"] != "4" {
		t.Errorf("stdout = %v, want 4", result["stdout"])
	}

	val := counterValue(t, metrics.Registry, "ngao_sandbox_executions_total", prometheus.Labels{"status": "success"})
	if val != 1 {
		t.Errorf("sandbox executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_SecurityViolation(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockRunner{err: security.ErrSecurityViolation}

	s := NewInstrumentedSandbox(inner, metrics, nil)
	_, err := s.Execute(context.Background(), "import os", time.Second)
	if !errors.Is(err, security.ErrSecurityViolation) {
		t.Fatalf("expected security violation, got %v", err)
	}

	val := counterValue(t, metrics.Registry, "ngao_sandbox_executions_total", prometheus.Labels{"status": "security_violation"})
	if val != 1 {
		t.Errorf("violation executions = %v, want 1", val)
	}
}

// --- InstrumentedManager (wrapper) ---

type stubExecutor struct {
	result map[string]any
	err    error
}

func (s stubExecutor) Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error) {
	return s.result, s.err
}

type stubFileChecker struct{ err error }

func (s stubFileChecker) Check(ctx context.Context, path, operation string) error { return s.err }

type stubNetChecker struct{ err error }

func (s stubNetChecker) Check(ctx context.Context, rawURL string) error { return s.err }

type stubAudit struct{}

func (stubAudit) Log(ctx context.Context, eventType, userID string, details map[string]any) {}

func (stubAudit) Events(eventType string, limit int) []security.AuditEvent { return nil }

func (stubAudit) ClearEvents() {}

func (stubAudit) Stats() security.Stats { return security.Stats{} }

func (stubAudit) Close() error { return nil }

func newTestManager(t *testing.T, files stubFileChecker, network stubNetChecker, exec stubExecutor) *InstrumentedManager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := security.NewManager(exec, files, network, stubAudit{}, logger)
	return NewInstrumentedManager(mgr, NewMetricsCollector(), nil)
}

func TestInstrumentedManager_FileAllowed(t *testing.T) {
	m := newTestManager(t, stubFileChecker{}, stubNetChecker{}, stubExecutor{})

	if !m.ValidateFileOperation(context.Background(), "/tmp/data.txt", "read", "alice") {
		t.Fatal("expected file operation to be allowed")
	}

	val := counterValue(t, m.metrics.Registry, "ngao_security_checks_total", prometheus.Labels{"check_type": "file_access", "result": "allowed"})
	if val != 1 {
		t.Errorf("security checks = %v, want 1", val)
	}
}

func TestInstrumentedManager_NetworkDenied(t *testing.T) {
	m := newTestManager(t, stubFileChecker{}, stubNetChecker{err: security.ErrSecurityViolation}, stubExecutor{})

	if m.ValidateNetworkRequest(context.Background(), "http://169.254.169.254/", "GET", "alice") {
		t.Fatal("expected network request to be denied")
	}

	val := counterValue(t, m.metrics.Registry, "ngao_security_checks_total", prometheus.Labels{"check_type": "network_request", "result": "denied"})
	if val != 1 {
		t.Errorf("security checks = %v, want 1", val)
	}
}

func TestInstrumentedManager_CodeDenied(t *testing.T) {
	m := newTestManager(t, stubFileChecker{}, stubNetChecker{}, stubExecutor{err: security.ErrResourceLimit})

	_, err := m.ExecuteCodeSafely(context.Background(), "while True: pass", time.Second, "alice")
	if !errors.Is(err, security.ErrResourceLimit) {
		t.Fatalf("expected resource limit error, got %v", err)
	}

	val := counterValue(t, m.metrics.Registry, "ngao_security_checks_total", prometheus.Labels{"check_type": "code_execution", "result": "denied"})
	if val != 1 {
		t.Errorf("security checks = %v, want 1", val)
	}
}

// --- InstrumentedAudit (wrapper) ---

type countingAudit struct {
	stubAudit
	logged int
}

func (c *countingAudit) Log(ctx context.Context, eventType, userID string, details map[string]any) {
	c.logged++
}

func TestInstrumentedAudit_CountsEvents(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &countingAudit{}

	a := NewInstrumentedAudit(inner, metrics)
	a.Log(context.Background(), "invocation_attempt", "alice", nil)
	a.Log(context.Background(), "invocation_attempt", "bob", nil)
	a.Log(context.Background(), "invocation_failure", "alice", nil)

	if inner.logged != 3 {
		t.Errorf("inner logged %d times, want 3", inner.logged)
	}

	val := counterValue(t, metrics.Registry, "ngao_security_audit_events_total", prometheus.Labels{"event_type": "invocation_attempt"})
	if val != 2 {
		t.Errorf("attempt events = %v, want 2", val)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "ngao_http_requests_total", prometheus.Labels{"method": "GET", "path": "/test", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_CapturesStatus(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := counterValue(t, metrics.Registry, "ngao_http_requests_total", prometheus.Labels{"method": "GET", "path": "/missing", "status_code": "404"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
