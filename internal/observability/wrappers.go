package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ngao/internal/llm"
	"github.com/jkaninda/ngao/internal/security"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
// It also implements llm.StreamingProvider, delegating to the inner provider
// when it streams natively and buffering through NonStreamingAdapter when not.
type InstrumentedProvider struct {
	inner   llm.Provider
	model   string
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
// The model is recorded as a metric label since requests do not carry it.
func NewInstrumentedProvider(inner llm.Provider, model string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		model:   model,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.String("llm.model", p.model),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, p.model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, p.model).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, p.model, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, p.model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

// StreamMessage streams through the inner provider, recording request count
// and duration. Token usage is not reported for streamed responses.
func (p *InstrumentedProvider) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.stream_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
				attribute.String("llm.model", p.model),
			))
		defer span.End()
	}

	streamer, ok := p.inner.(llm.StreamingProvider)
	if !ok {
		streamer = &llm.NonStreamingAdapter{Provider: p.inner}
	}

	start := time.Now()
	err := streamer.StreamMessage(ctx, req, events)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, p.model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, p.model).Observe(duration)
	}

	return err
}

// --- InstrumentedSandbox ---

// codeRunner executes code under resource limits.
type codeRunner interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error)
}

// InstrumentedSandbox wraps a sandbox executor with metrics and tracing.
// It satisfies the executor seam of security.NewManager.
type InstrumentedSandbox struct {
	inner   codeRunner
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner codeRunner, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.Int("sandbox.code_length", len(code)),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.Execute(ctx, code, timeout)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case errors.Is(err, security.ErrSecurityViolation):
		status = "security_violation"
	case errors.Is(err, security.ErrResourceLimit):
		status = "resource_limit"
	case err != nil:
		status = "error"
	}

	if err != nil && s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(status).Inc()
		s.metrics.SandboxExecutionDuration.Observe(duration)
	}

	return result, err
}

// --- InstrumentedManager ---

// InstrumentedManager wraps a security.Manager with metrics and tracing.
// It exposes the same gate surface so tools can consume it transparently.
type InstrumentedManager struct {
	inner   *security.Manager
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedManager wraps a security manager with observability.
func NewInstrumentedManager(inner *security.Manager, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedManager {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedManager{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (m *InstrumentedManager) ExecuteCodeSafely(ctx context.Context, code string, timeout time.Duration, userID string) (map[string]any, error) {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "security.execute_code",
			trace.WithAttributes(
				attribute.String("security.user_id", userID),
				attribute.Int("security.code_length", len(code)),
			))
		defer span.End()
	}

	result, err := m.inner.ExecuteCodeSafely(ctx, code, timeout, userID)
	m.recordCheck("code_execution", checkResult(err))
	if err != nil && m.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (m *InstrumentedManager) ValidateFileOperation(ctx context.Context, path, operation, userID string) bool {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "security.file_operation",
			trace.WithAttributes(
				attribute.String("security.user_id", userID),
				attribute.String("security.operation", operation),
			))
		defer span.End()
	}

	allowed := m.inner.ValidateFileOperation(ctx, path, operation, userID)
	m.recordCheck("file_access", boolResult(allowed))
	return allowed
}

func (m *InstrumentedManager) ValidateNetworkRequest(ctx context.Context, rawURL, method, userID string) bool {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "security.network_request",
			trace.WithAttributes(
				attribute.String("security.user_id", userID),
				attribute.String("security.method", method),
			))
		defer span.End()
	}

	allowed := m.inner.ValidateNetworkRequest(ctx, rawURL, method, userID)
	m.recordCheck("network_request", boolResult(allowed))
	return allowed
}

func (m *InstrumentedManager) Stats() security.Stats { return m.inner.Stats() }

func (m *InstrumentedManager) Events(eventType string, limit int) []security.AuditEvent {
	return m.inner.Events(eventType, limit)
}

func (m *InstrumentedManager) ClearEvents() { m.inner.ClearEvents() }

func (m *InstrumentedManager) Close() error { return m.inner.Close() }

func (m *InstrumentedManager) recordCheck(checkType, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.SecurityChecksTotal.WithLabelValues(checkType, result).Inc()
}

func checkResult(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, security.ErrSecurityViolation), errors.Is(err, security.ErrResourceLimit):
		return "denied"
	default:
		return "error"
	}
}

func boolResult(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// --- InstrumentedAudit ---

// auditSink is the audit recorder surface consumed by security.NewManager.
type auditSink interface {
	Log(ctx context.Context, eventType, userID string, details map[string]any)
	Events(eventType string, limit int) []security.AuditEvent
	ClearEvents()
	Stats() security.Stats
	Close() error
}

// InstrumentedAudit decorates an audit recorder, counting events by type.
type InstrumentedAudit struct {
	inner   auditSink
	metrics *MetricsCollector
}

// NewInstrumentedAudit wraps an audit recorder with observability.
func NewInstrumentedAudit(inner auditSink, metrics *MetricsCollector) *InstrumentedAudit {
	return &InstrumentedAudit{inner: inner, metrics: metrics}
}

func (a *InstrumentedAudit) Log(ctx context.Context, eventType, userID string, details map[string]any) {
	if a.metrics != nil {
		a.metrics.AuditEventsTotal.WithLabelValues(eventType).Inc()
	}
	a.inner.Log(ctx, eventType, userID, details)
}

func (a *InstrumentedAudit) Events(eventType string, limit int) []security.AuditEvent {
	return a.inner.Events(eventType, limit)
}

func (a *InstrumentedAudit) ClearEvents() { a.inner.ClearEvents() }

func (a *InstrumentedAudit) Stats() security.Stats { return a.inner.Stats() }

func (a *InstrumentedAudit) Close() error { return a.inner.Close() }

// --- Compile-time interface checks ---

var (
	_ llm.Provider          = (*InstrumentedProvider)(nil)
	_ llm.StreamingProvider = (*InstrumentedProvider)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
