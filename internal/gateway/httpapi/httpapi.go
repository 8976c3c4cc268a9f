// Package httpapi implements the HTTP API gateway for Ngao.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting with sliding windows
//   - Hardening headers on every response
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/agent"
	"github.com/jkaninda/ngao/internal/observability"
	"github.com/jkaninda/ngao/internal/ratelimit"
	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/task"
	"github.com/jkaninda/ngao/internal/tools"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// anonymousUser is the caller identity when no API keys are configured.
const anonymousUser = "anonymous"

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	agent    agent.Agent
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	tasks    *task.Registry      // nil = task profile endpoints disabled.
	tools    *tools.Registry     // nil = direct tool endpoints disabled.
	runner   *tools.Runner       // Required when tools is set.
	security *security.Manager   // nil = security endpoints disabled.
	audit    security.AuditStore // nil = events served from the in-memory ring.

	// Streaming support.
	sseEnabled bool // Enable SSE streaming endpoint.

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket audit stream).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, a agent.Agent, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		agent:   a,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithTasks attaches the task profile registry to the gateway.
func (g *Gateway) WithTasks(reg *task.Registry) *Gateway {
	g.tasks = reg
	return g
}

// WithTools attaches the tool registry and runner, enabling direct tool
// invocation over HTTP. Every invocation still goes through the runner's
// security pipeline.
func (g *Gateway) WithTools(reg *tools.Registry, runner *tools.Runner) *Gateway {
	g.tools = reg
	g.runner = runner
	return g
}

// WithSecurity attaches the security manager, enabling the stats and
// audit event endpoints.
func (g *Gateway) WithSecurity(mgr *security.Manager) *Gateway {
	g.security = mgr
	return g
}

// WithAuditStore attaches a durable audit store. When set, the events
// endpoint queries the store instead of the in-memory ring.
func (g *Gateway) WithAuditStore(store security.AuditStore) *Gateway {
	g.audit = store
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Ngao",
			Version: "v0.1.0",
		},
	)
	return g
}

// WithSSE enables the SSE streaming endpoint.
func (g *Gateway) WithSSE(enabled bool) *Gateway {
	g.sseEnabled = enabled
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket audit stream alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}
	g.okapi.UseMiddleware(securityHeaders)
	g.okapi.UseMiddleware(g.requestSizeLimit)
	g.okapi.UseMiddleware(g.rateLimit)

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Chat endpoints.
	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a chat message"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, RateLimitedBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// SSE streaming endpoint.
	if g.sseEnabled {
		g.group.Post("/chat/stream", g.handleChatStream,
			okapi.DocSummary("Stream a chat response via SSE"),
			okapi.DocTags("Chat"),
			okapi.DocRequestBody(ChatRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}

	// Task profile endpoints (only if a registry is configured).
	if g.tasks != nil {
		g.group.Get("/tasks", g.handleTaskList,
			okapi.DocSummary("List task profiles"),
			okapi.DocTags("Tasks"),
			okapi.DocResponse(TaskListResponse{}),
		)
		g.group.Get("/tasks/{type}", g.handleTaskGet,
			okapi.DocSummary("Get a task profile by type"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("type", "string", "Task type identifier"),
			okapi.DocResponse(TaskProfileResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Direct tool endpoints (only if a registry and runner are configured).
	if g.tools != nil && g.runner != nil {
		g.group.Get("/tools", g.handleToolList,
			okapi.DocSummary("List registered tools"),
			okapi.DocTags("Tools"),
			okapi.DocResponse([]ToolInfo{}),
		)
		g.group.Post("/tools/{name}", g.handleToolInvoke,
			okapi.DocSummary("Invoke a tool directly"),
			okapi.DocTags("Tools"),
			okapi.DocPathParam("name", "string", "Tool name"),
			okapi.DocRequestBody(ToolInvokeRequest{}),
			okapi.DocResponse(ToolInvokeResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Security endpoints (only if the manager is configured).
	if g.security != nil {
		g.group.Get("/security/stats", g.handleSecurityStats,
			okapi.DocSummary("Audit statistics"),
			okapi.DocTags("Security"),
			okapi.DocResponse(security.Stats{}),
		)
	}
	if g.security != nil || g.audit != nil {
		g.group.Get("/security/events", g.handleSecurityEvents,
			okapi.DocSummary("Query recent audit events"),
			okapi.DocTags("Security"),
			okapi.DocResponse(SecurityEventsResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	// Extra handlers (e.g., WebSocket audit stream).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ChatRequest is the JSON body for POST /v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	TaskType  string `json:"task_type,omitempty"`  // Empty or unknown = general chat.
	SessionID string `json:"session_id,omitempty"` // Empty = new session.
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Message       string                 `json:"message"`
	TaskType      string                 `json:"task_type"`
	SessionID     string                 `json:"session_id"`
	CorrelationID string                 `json:"correlation_id"`
	TokensUsed    int                    `json:"tokens_used,omitempty"`
	ToolResults   []agent.ToolCallResult `json:"tool_results,omitempty"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	correlationID := newCorrelationID()

	// Resolve session ID: use client-provided or generate new.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	g.logger.Info("http chat",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("session_id", sessionID),
		slog.String("task_type", req.TaskType),
	)

	// Process through agent.
	resp, err := g.agent.Process(c.Context(), &agent.Input{
		UserID:    userID,
		SessionID: sessionID,
		Message:   req.Message,
		TaskType:  req.TaskType,
	})
	if err != nil {
		if errors.Is(err, security.ErrSecurityViolation) {
			return c.JSON(http.StatusForbidden, ErrorBody{Error: "blocked by security policy"})
		}

		g.logger.Error("agent processing failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("processing failed")
	}

	return c.OK(ChatResponse{
		Message:       resp.Message,
		TaskType:      string(resp.TaskType),
		SessionID:     sessionID,
		CorrelationID: correlationID,
		TokensUsed:    resp.TokensUsed,
		ToolResults:   resp.ToolResults,
	})
}

// HealthResponse is the JSON response for GET /v1/healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context. With no keys configured, every request maps to the
// anonymous user.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("userID", anonymousUser)
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := lookupUser(g.config.APIKeys, apiKey)
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// --- Helpers ---

// lookupUser resolves an API key to a user ID. Every key is compared in
// constant time regardless of where the match lands.
func lookupUser(keys map[string]string, apiKey string) string {
	userID := ""
	for key, userId := range keys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			userID = userId
		}
	}
	return userID
}

// bearerToken extracts the token from an Authorization header value.
// Returns "" if the header is missing or not a Bearer scheme.
func bearerToken(authz string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return ""
	}
	return strings.TrimPrefix(authz, prefix)
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
