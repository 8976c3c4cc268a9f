// Package web implements the web_fetch tool with SSRF protection.
//
// Security:
//   - Every request passes the manager's audited domain gate, then the
//     tool's narrowed validator
//   - Private, loopback, and link-local IPs blocked twice: at a DNS
//     pre-flight and again at connect time inside the dialer
//   - Redirect hops re-run the SSRF and narrowed checks
//   - Response body capped to prevent OOM
//   - Only GET and HEAD methods allowed
package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/tools"
)

// networkGate is the policy decision contract.
// Satisfied by *security.Manager.
type networkGate interface {
	ValidateNetworkRequest(ctx context.Context, rawURL, method, userID string) bool
}

// Config configures the web fetch tool.
type Config struct {
	MaxResponseBytes int64         // Maximum response body size. 0 = 10 MiB.
	Timeout          time.Duration // Per-request ceiling. Zero = 30s.
}

const defaultMaxResponseBytes = 10 << 20 // 10 MiB

// Tool fetches URLs approved by the security pipeline.
type Tool struct {
	config    Config
	gate      networkGate
	validator *security.ToolValidator // nil = no narrowed layer
	client    *http.Client
	logger    *slog.Logger
	ssrfCheck func(host string) error // test seam, CheckSSRF in production
}

// Option configures the web tool.
type Option func(*Tool)

// WithHTTPClient replaces the hardened client, bypassing the dial
// guard. Meant for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Tool) { t.client = hc }
}

// NewTool creates a web fetch tool guarded by the given gate.
func NewTool(cfg Config, gate networkGate, validator *security.ToolValidator, logger *slog.Logger, opts ...Option) *Tool {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = tools.DefaultTimeout
	}
	t := &Tool{
		config:    cfg,
		gate:      gate,
		validator: validator,
		logger:    logger,
		ssrfCheck: CheckSSRF,
	}
	t.client = NewSafeClient(cfg.Timeout, t.checkHop)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string        { return "web_fetch" }
func (t *Tool) Description() string { return "Fetch content from allowed URLs with SSRF protection" }
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "description": "The URL to fetch (http or https)"},
			"method": map[string]any{"type": "string", "enum": []string{"GET", "HEAD"}, "description": "HTTP method. Defaults to GET"},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) SecurityLevel() security.Level { return security.LevelLow }

// Timeout pads the client's own ceiling so its clearer timeout error
// fires before the runner's context.
func (t *Tool) Timeout() time.Duration { return t.config.Timeout + 2*time.Second }

// Validate checks parameter shape only. Domain policy is the gate's
// decision at execution time so the denial lands in the audit trail.
func (t *Tool) Validate(params map[string]any) error {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("URL %q has no host", rawURL)
	}

	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "HEAD" {
		return fmt.Errorf("only GET and HEAD methods allowed, got %q", method)
	}

	return nil
}

func (t *Tool) Execute(ctx context.Context, sctx *security.SecurityContext, params map[string]any) (*tools.Result, error) {
	rawURL, _ := requireString(params, "url")

	method := "GET"
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if !t.gate.ValidateNetworkRequest(ctx, rawURL, method, sctx.UserID) {
		return nil, fmt.Errorf("%w: network request denied for %q", security.ErrSecurityViolation, rawURL)
	}
	if t.validator != nil {
		if err := t.validator.CheckURL(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	// Pre-flight SSRF check for a clear error before dialing; the dial
	// guard inside the client is the enforcement point.
	if err := t.ssrfCheck(parsed.Hostname()); err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrSecurityViolation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Ngao/1.0")

	t.logger.InfoContext(ctx, "web_fetch executing",
		slog.String("method", method),
		slog.String("url", rawURL),
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	truncated := false
	if int64(len(body)) > t.config.MaxResponseBytes {
		body = body[:t.config.MaxResponseBytes]
		truncated = true
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(body), tools.MaxOutputBytes),
		Success: resp.StatusCode >= 200 && resp.StatusCode < 400,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"url":          resp.Request.URL.String(),
			"content_type": resp.Header.Get("Content-Type"),
			"truncated":    truncated,
		},
	}, nil
}

// checkHop validates a redirect target before it is followed. The
// manager gate is not re-run here; it decided on the URL the user
// asked for, and hop enforcement stays with the SSRF and narrowed
// checks plus the dial guard.
func (t *Tool) checkHop(req *http.Request) error {
	host := req.URL.Hostname()
	if err := t.ssrfCheck(host); err != nil {
		return err
	}
	if t.validator != nil {
		if err := t.validator.CheckURL(req.Context(), req.URL.String()); err != nil {
			return fmt.Errorf("redirect blocked: %w", err)
		}
	}
	return nil
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
