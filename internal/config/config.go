// Package config handles loading and validating Ngao configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Ngao.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.ngao/data. Override: NGAO_DATA_DIR env var.
	Security      SecurityConfig       `json:"security" yaml:"security"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	RateLimit     *RateLimitConfig     `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`         // nil = default limits (60/min, 1000/hour)
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`               // nil = SQLite default (derived from data dir)
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`               // nil = HTTP gateway with defaults
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"`   // nil = observability disabled
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`           // nil = audit retention sweeping disabled
}

// SecurityConfig holds every tunable the security subsystem enforces:
// sandbox ceilings, file and network allow/deny lists, and audit
// settings. Zero values mean "use the default"; the Disable* flags
// exist because sandboxing and auditing default to on.
type SecurityConfig struct {
	DisableSandbox      bool     `json:"disable_sandbox" yaml:"disable_sandbox"`                             // Default: sandbox on.
	MaxExecutionSeconds int      `json:"max_execution_seconds" yaml:"max_execution_seconds"`                 // Default: 30.
	MaxMemoryMB         int      `json:"max_memory_mb" yaml:"max_memory_mb"`                                 // Default: 512.
	MaxCPUPercent       float64  `json:"max_cpu_percent" yaml:"max_cpu_percent"`                             // Default: 50.0.
	AllowedDirs         []string `json:"allowed_dirs,omitempty" yaml:"allowed_dirs,omitempty"`               // Default: /tmp, /var/tmp, ./temp_uploads, ./workspace.
	MaxFileSizeBytes    int64    `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`                     // Default: 10 MiB.
	AllowedFileTypes    []string `json:"allowed_file_types,omitempty" yaml:"allowed_file_types,omitempty"`   // Absent = built-in list. Explicit [] = any extension.
	BlockedFileTypes    []string `json:"blocked_file_types,omitempty" yaml:"blocked_file_types,omitempty"`   // Absent = built-in list. Explicit [] = none blocked.
	AllowedDomains      []string `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`         // Empty = any domain not blocked.
	BlockedDomains      []string `json:"blocked_domains,omitempty" yaml:"blocked_domains,omitempty"`         // Absent = loopback names blocked.
	MaxNetworkRequests  int      `json:"max_network_requests" yaml:"max_network_requests"`                   // Per execution context. Default: 10.
	MaxToolLevel        string   `json:"max_tool_level,omitempty" yaml:"max_tool_level,omitempty"`           // Highest tool security level the runner accepts. Default: high.
	DisableAudit        bool     `json:"disable_audit" yaml:"disable_audit"`                                 // Default: audit on.
	AuditLogPath        string   `json:"audit_log_path,omitempty" yaml:"audit_log_path,omitempty"`           // Default: <data_dir>/security_audit.jsonl.
	AuditRingSize       int      `json:"audit_ring_size" yaml:"audit_ring_size"`                             // In-memory event ring. Default: 1000.
}

// MaxExecution returns the execution time ceiling with a default of 30s.
func (s *SecurityConfig) MaxExecution() time.Duration {
	if s.MaxExecutionSeconds > 0 {
		return time.Duration(s.MaxExecutionSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaxMemoryBytes returns the memory ceiling with a default of 512 MiB.
func (s *SecurityConfig) MaxMemoryBytes() uint64 {
	if s.MaxMemoryMB > 0 {
		return uint64(s.MaxMemoryMB) * 1024 * 1024
	}
	return 512 * 1024 * 1024
}

// CPUPercent returns the CPU ceiling with a default of 50%.
func (s *SecurityConfig) CPUPercent() float64 {
	if s.MaxCPUPercent > 0 {
		return s.MaxCPUPercent
	}
	return 50.0
}

// Dirs returns the allowed directories with the built-in default set.
func (s *SecurityConfig) Dirs() []string {
	if s.AllowedDirs != nil {
		return s.AllowedDirs
	}
	return []string{"/tmp", "/var/tmp", "./temp_uploads", "./workspace"}
}

// MaxFileSize returns the file size ceiling with a default of 10 MiB.
func (s *SecurityConfig) MaxFileSize() int64 {
	if s.MaxFileSizeBytes > 0 {
		return s.MaxFileSizeBytes
	}
	return 10 * 1024 * 1024
}

// FileTypesAllowed returns the extension allow-list. Absent means the
// built-in list; an explicit empty list means any extension passes.
func (s *SecurityConfig) FileTypesAllowed() []string {
	if s.AllowedFileTypes != nil {
		return s.AllowedFileTypes
	}
	return []string{".txt", ".md", ".py", ".json", ".csv", ".xml", ".html", ".css", ".js"}
}

// FileTypesBlocked returns the extension deny-list. Absent means the
// built-in list; an explicit empty list blocks nothing.
func (s *SecurityConfig) FileTypesBlocked() []string {
	if s.BlockedFileTypes != nil {
		return s.BlockedFileTypes
	}
	return []string{".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".vbs", ".jar"}
}

// DomainsBlocked returns the domain deny-list with the loopback default.
func (s *SecurityConfig) DomainsBlocked() []string {
	if s.BlockedDomains != nil {
		return s.BlockedDomains
	}
	return []string{"localhost", "127.0.0.1", "0.0.0.0"}
}

// NetworkRequests returns the per-context request ceiling with a
// default of 10.
func (s *SecurityConfig) NetworkRequests() int {
	if s.MaxNetworkRequests > 0 {
		return s.MaxNetworkRequests
	}
	return 10
}

// ToolLevel returns the tool security level ceiling with a default of "high".
// The restricted level is reserved for tools that must be explicitly enabled.
func (s *SecurityConfig) ToolLevel() string {
	if s.MaxToolLevel != "" {
		return s.MaxToolLevel
	}
	return "high"
}

// RingSize returns the audit ring size with a default of 1000.
func (s *SecurityConfig) RingSize() int {
	if s.AuditRingSize > 0 {
		return s.AuditRingSize
	}
	return 1000
}

// ToolsConfig configures individual tool settings.
type ToolsConfig struct {
	Code CodeToolConfig    `json:"code" yaml:"code"`
	File FileToolConfig    `json:"file" yaml:"file"`
	Web  WebToolConfig     `json:"web" yaml:"web"`
	Text TextToolConfig    `json:"text" yaml:"text"`
	MCP  []MCPServerConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"` // External MCP tool servers.
}

// CodeToolConfig configures the sandboxed code execution tool.
type CodeToolConfig struct {
	Disabled       bool `json:"disabled" yaml:"disabled"`
	TimeoutSeconds int  `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 30.
}

// Timeout returns the code tool timeout with a default of 30s.
func (c *CodeToolConfig) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// FileToolConfig narrows file tool access beyond the security policy.
type FileToolConfig struct {
	Disabled         bool     `json:"disabled" yaml:"disabled"`
	MaxFileSizeBytes int64    `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`                   // 0 = inherit security policy.
	AllowedFileTypes []string `json:"allowed_file_types,omitempty" yaml:"allowed_file_types,omitempty"` // Empty = inherit security policy.
	BlockedFileTypes []string `json:"blocked_file_types,omitempty" yaml:"blocked_file_types,omitempty"`
}

// WebToolConfig narrows web tool access beyond the security policy.
type WebToolConfig struct {
	Disabled         bool     `json:"disabled" yaml:"disabled"`
	AllowedDomains   []string `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	BlockedDomains   []string `json:"blocked_domains,omitempty" yaml:"blocked_domains,omitempty"`
	MaxResponseBytes int64    `json:"max_response_bytes" yaml:"max_response_bytes"` // Default: 10 MiB.
	TimeoutSeconds   int      `json:"timeout_seconds" yaml:"timeout_seconds"`       // Default: 30.
}

// MaxResponse returns the response size cap with a default of 10 MiB.
func (w *WebToolConfig) MaxResponse() int64 {
	if w.MaxResponseBytes > 0 {
		return w.MaxResponseBytes
	}
	return 10 * 1024 * 1024
}

// Timeout returns the web tool timeout with a default of 30s.
func (w *WebToolConfig) Timeout() time.Duration {
	if w.TimeoutSeconds > 0 {
		return time.Duration(w.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// TextToolConfig configures the text processing tool.
type TextToolConfig struct {
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// MCPServerConfig defines a single external MCP server connection.
// Ngao acts as an MCP client, connecting at startup, discovering tools,
// and registering them in the tool registry behind the security gate.
type MCPServerConfig struct {
	Name          string            `json:"name" yaml:"name"`                                       // Server ID used for tool namespacing (e.g., "github").
	Transport     string            `json:"transport" yaml:"transport"`                             // "stdio", "sse", or "streamable_http".
	Command       string            `json:"command,omitempty" yaml:"command,omitempty"`             // Executable to launch (stdio only).
	Args          []string          `json:"args,omitempty" yaml:"args,omitempty"`                   // Command arguments (stdio only).
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`                     // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL           string            `json:"url,omitempty" yaml:"url,omitempty"`                     // Server endpoint (sse/streamable_http only).
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`             // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
	SecurityLevel string            `json:"security_level,omitempty" yaml:"security_level,omitempty"` // "low", "medium", "high", "restricted". Default: "high".
}

// Level returns the server's security level with a default of "high".
// External tools are untrusted until stated otherwise.
func (m *MCPServerConfig) Level() string {
	if m.SecurityLevel != "" {
		return m.SecurityLevel
	}
	return "high"
}

// ProviderConfig configures the LLM provider (OpenAI-compatible).
type ProviderConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url"`               // Optional. Defaults to https://api.openai.com.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-request timeout. Default: 60.
}

// Endpoint returns the base URL with the OpenAI default.
func (p *ProviderConfig) Endpoint() string {
	if p.BaseURL != "" {
		return strings.TrimSuffix(p.BaseURL, "/")
	}
	return "https://api.openai.com"
}

// Timeout returns the request timeout with a default of 60s.
func (p *ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// AgentConfig holds chat agent settings.
type AgentConfig struct {
	MaxHistoryMessages int `json:"max_history_messages" yaml:"max_history_messages"` // Per session. Default: 50.
	MaxToolIterations  int `json:"max_tool_iterations" yaml:"max_tool_iterations"`   // Tool-call rounds per message. Default: 5.
}

// MaxHistory returns the per-session history cap with a default of 50.
func (a *AgentConfig) MaxHistory() int {
	if a.MaxHistoryMessages > 0 {
		return a.MaxHistoryMessages
	}
	return 50
}

// ToolIterations returns the tool-call round cap with a default of 5.
func (a *AgentConfig) ToolIterations() int {
	if a.MaxToolIterations > 0 {
		return a.MaxToolIterations
	}
	return 5
}

// RateLimitConfig configures the per-user sliding windows.
// When nil, the default limits apply. Explicit zeros mean unlimited.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour" yaml:"requests_per_hour"`
}

// PerMinute returns the per-minute limit with a default of 60.
// 0 on a present section means unlimited.
func (r *RateLimitConfig) PerMinute() int {
	if r == nil {
		return 60
	}
	return r.RequestsPerMinute
}

// PerHour returns the per-hour limit with a default of 1000.
// 0 on a present section means unlimited.
func (r *RateLimitConfig) PerHour() int {
	if r == nil {
		return 1000
	}
	return r.RequestsPerHour
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	Org      string                 `json:"org,omitempty" yaml:"org,omitempty"`           // Scoping value stamped on stored rows. Default: "default".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// OrgName returns the row scoping value with a default of "default".
func (s *StorageConfig) OrgName() string {
	if s != nil && s.Org != "" {
		return s.Org
	}
	return "default"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: NGAO_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// GatewayConfig configures the HTTP API gateway.
// When nil, the gateway runs with defaults: listen on :8080, SSE
// enabled, docs disabled, no API keys (every request maps to the
// anonymous user).
type GatewayConfig struct {
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`                       // Default: ":8080". Override: NGAO_LISTEN_ADDR env var.
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`                       // Serve OpenAPI docs.
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MiB.
	APIKeys             map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`         // API key → user ID. NGAO_API_KEY adds one mapped to "default".
	DisableSSE          bool              `json:"disable_sse" yaml:"disable_sse"`                       // Default: SSE streaming endpoint on.
}

// Addr returns the listen address with a default of ":8080".
func (g *GatewayConfig) Addr() string {
	if g != nil && g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request size cap with a default of 1 MiB.
func (g *GatewayConfig) MaxRequestSize() int64 {
	if g != nil && g.MaxRequestSizeBytes > 0 {
		return g.MaxRequestSizeBytes
	}
	return 1024 * 1024
}

// SSEEnabled reports whether the streaming chat endpoint is served.
func (g *GatewayConfig) SSEEnabled() bool {
	return g == nil || !g.DisableSSE
}

// DocsEnabled reports whether OpenAPI docs are served.
func (g *GatewayConfig) DocsEnabled() bool {
	return g != nil && g.EnableDocs
}

// KeyUserMapping returns the API key → user ID map, never nil.
func (g *GatewayConfig) KeyUserMapping() map[string]string {
	if g == nil || g.APIKeys == nil {
		return map[string]string{}
	}
	return g.APIKeys
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "ngao"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// RetentionConfig configures the audit retention sweeper.
// When nil, stored audit events are kept forever.
type RetentionConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Schedule   string `json:"schedule" yaml:"schedule"`         // Cron expression. Default: "0 * * * *" (hourly).
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"` // Default: 30.
}

// CronSchedule returns the sweep schedule with a default of hourly.
func (r *RetentionConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "0 * * * *"
}

// MaxAge returns the retention window with a default of 30 days.
func (r *RetentionConfig) MaxAge() time.Duration {
	if r != nil && r.MaxAgeDays > 0 {
		return time.Duration(r.MaxAgeDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// DefaultConfigPath returns the default config file path (~/.ngao/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/ngao.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".ngao", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys and gateway settings can be set in the
// config file or overridden by environment variables. Environment variables
// take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".ngao", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
func applyEnvOverrides(cfg *Config) {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Provider.APIKey = envKey
	}
	if envDD := os.Getenv("NGAO_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envAddr := os.Getenv("NGAO_LISTEN_ADDR"); envAddr != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &GatewayConfig{}
		}
		cfg.Gateway.ListenAddr = envAddr
	}
	if envKey := os.Getenv("NGAO_API_KEY"); envKey != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &GatewayConfig{}
		}
		if cfg.Gateway.APIKeys == nil {
			cfg.Gateway.APIKeys = map[string]string{}
		}
		cfg.Gateway.APIKeys[envKey] = "default"
	}
	if envDSN := os.Getenv("NGAO_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".ngao", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "ngao.db")
}

// ResolvedAuditLogPath returns the audit log path, defaulting to
// security_audit.jsonl under the data directory.
func (c *Config) ResolvedAuditLogPath() string {
	if c.Security.AuditLogPath != "" {
		return c.Security.AuditLogPath
	}
	return filepath.Join(c.ResolvedDataDir(), "security_audit.jsonl")
}

func (c *Config) validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.Security.MaxExecutionSeconds < 0 {
		return fmt.Errorf("security.max_execution_seconds must not be negative")
	}
	if c.Security.MaxMemoryMB < 0 {
		return fmt.Errorf("security.max_memory_mb must not be negative")
	}
	if c.Security.MaxCPUPercent < 0 || c.Security.MaxCPUPercent > 100 {
		return fmt.Errorf("security.max_cpu_percent must be between 0 and 100")
	}
	if c.Security.MaxFileSizeBytes < 0 {
		return fmt.Errorf("security.max_file_size_bytes must not be negative")
	}
	if c.Security.MaxNetworkRequests < 0 {
		return fmt.Errorf("security.max_network_requests must not be negative")
	}
	switch c.Security.ToolLevel() {
	case "low", "medium", "high", "restricted":
	default:
		return fmt.Errorf("security.max_tool_level %q is not supported (use low, medium, high, or restricted)", c.Security.MaxToolLevel)
	}

	// An extension or domain written into both the allow and the deny
	// list is a contradiction the runtime would silently resolve
	// deny-first; reject it at load time instead. Only explicit lists
	// are compared, so blocking a default-allowed entry stays legal.
	if err := checkAllowDenyOverlap("security.allowed_file_types", c.Security.AllowedFileTypes, c.Security.BlockedFileTypes); err != nil {
		return err
	}
	if err := checkAllowDenyOverlap("security.allowed_domains", c.Security.AllowedDomains, c.Security.BlockedDomains); err != nil {
		return err
	}
	if err := checkAllowDenyOverlap("tools.file.allowed_file_types", c.Tools.File.AllowedFileTypes, c.Tools.File.BlockedFileTypes); err != nil {
		return err
	}
	if err := checkAllowDenyOverlap("tools.web.allowed_domains", c.Tools.Web.AllowedDomains, c.Tools.Web.BlockedDomains); err != nil {
		return err
	}

	if c.RateLimit != nil {
		if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.RequestsPerHour < 0 {
			return fmt.Errorf("rate_limit values must not be negative")
		}
	}

	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set NGAO_DB_DSN env var)")
		}
	}

	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
	}

	if c.Retention != nil && c.Retention.Enabled && c.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must not be negative")
	}

	// MCP server config validation.
	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
		switch srv.Level() {
		case "low", "medium", "high", "restricted":
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): security_level %q is not supported (use low, medium, high, or restricted)", i, srv.Name, srv.SecurityLevel)
		}
	}
	return nil
}

// validateProvider checks that the LLM provider has the required fields.
func (c *Config) validateProvider() error {
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (set OPENAI_API_KEY env var)")
	}
	return nil
}

// checkAllowDenyOverlap reports entries present in both the allow and
// the deny list, case-insensitively.
func checkAllowDenyOverlap(field string, allowed, blocked []string) error {
	if len(allowed) == 0 || len(blocked) == 0 {
		return nil
	}
	denied := make(map[string]bool, len(blocked))
	for _, b := range blocked {
		denied[strings.ToLower(b)] = true
	}
	for _, a := range allowed {
		if denied[strings.ToLower(a)] {
			return fmt.Errorf("%s: %q appears in both the allow and the deny list", field, a)
		}
	}
	return nil
}
