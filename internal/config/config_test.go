package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// pinEnv clears every env var Load consults so host settings cannot
// leak into assertions.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "NGAO_DATA_DIR", "NGAO_LISTEN_ADDR", "NGAO_API_KEY", "NGAO_DB_DSN"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	pinEnv(t)
	path := writeConfig(t, "config.json", `{
		"data_dir": "/srv/ngao",
		"provider": {"api_key": "sk-test", "model": "gpt-4o-mini", "base_url": "https://llm.internal/v1/"},
		"security": {
			"max_execution_seconds": 10,
			"allowed_file_types": [".txt", ".csv"],
			"blocked_domains": ["internal.corp"]
		},
		"rate_limit": {"requests_per_minute": 5, "requests_per_hour": 50},
		"gateway": {"listen_addr": ":9090", "api_keys": {"k1": "alice"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/srv/ngao" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/srv/ngao")
	}
	if got := cfg.Provider.Endpoint(); got != "https://llm.internal/v1" {
		t.Errorf("Endpoint() = %q, want trailing slash trimmed", got)
	}
	if got := cfg.Security.MaxExecution(); got != 10*time.Second {
		t.Errorf("MaxExecution() = %v, want 10s", got)
	}
	if got := cfg.Security.FileTypesAllowed(); len(got) != 2 || got[0] != ".txt" {
		t.Errorf("FileTypesAllowed() = %v, want explicit list", got)
	}
	if got := cfg.Security.DomainsBlocked(); len(got) != 1 || got[0] != "internal.corp" {
		t.Errorf("DomainsBlocked() = %v, want explicit list", got)
	}
	if got := cfg.RateLimit.PerMinute(); got != 5 {
		t.Errorf("PerMinute() = %d, want 5", got)
	}
	if got := cfg.Gateway.Addr(); got != ":9090" {
		t.Errorf("Addr() = %q, want :9090", got)
	}
	if got := cfg.Gateway.KeyUserMapping()["k1"]; got != "alice" {
		t.Errorf("KeyUserMapping()[k1] = %q, want alice", got)
	}
}

func TestLoadYAML(t *testing.T) {
	pinEnv(t)
	path := writeConfig(t, "config.yaml", `
data_dir: /srv/ngao
provider:
  api_key: sk-test
  model: gpt-4o-mini
storage:
  driver: postgres
  postgres:
    dsn: postgres://ngao@db/ngao
    max_open_conns: 3
tools:
  mcp:
    - name: github
      transport: stdio
      command: mcp-github
security:
  disable_audit: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Storage.StorageDriver(); got != "postgres" {
		t.Errorf("StorageDriver() = %q, want postgres", got)
	}
	if got := cfg.Storage.Postgres.MaxOpenConns; got != 3 {
		t.Errorf("MaxOpenConns = %d, want 3", got)
	}
	if len(cfg.Tools.MCP) != 1 || cfg.Tools.MCP[0].Name != "github" {
		t.Errorf("Tools.MCP = %+v, want one server named github", cfg.Tools.MCP)
	}
	if !cfg.Security.DisableAudit {
		t.Error("DisableAudit = false, want true")
	}
}

func TestLoadDefaults(t *testing.T) {
	pinEnv(t)
	path := writeConfig(t, "config.json", `{"provider": {"api_key": "sk-test", "model": "gpt-4o-mini"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Security.MaxExecution(); got != 30*time.Second {
		t.Errorf("MaxExecution() = %v, want 30s", got)
	}
	if got := cfg.Security.MaxMemoryBytes(); got != 512*1024*1024 {
		t.Errorf("MaxMemoryBytes() = %d, want 512 MiB", got)
	}
	if got := cfg.Security.RingSize(); got != 1000 {
		t.Errorf("RingSize() = %d, want 1000", got)
	}
	if got := cfg.Security.NetworkRequests(); got != 10 {
		t.Errorf("NetworkRequests() = %d, want 10", got)
	}
	if got := cfg.Security.ToolLevel(); got != "high" {
		t.Errorf("ToolLevel() = %q, want %q", got, "high")
	}
	if got := cfg.RateLimit.PerMinute(); got != 60 {
		t.Errorf("PerMinute() = %d, want 60 when section absent", got)
	}
	if got := cfg.RateLimit.PerHour(); got != 1000 {
		t.Errorf("PerHour() = %d, want 1000 when section absent", got)
	}
	if got := cfg.Gateway.Addr(); got != ":8080" {
		t.Errorf("Addr() = %q, want :8080 when section absent", got)
	}
	if !cfg.Gateway.SSEEnabled() {
		t.Error("SSEEnabled() = false, want true when section absent")
	}
	if cfg.Gateway.DocsEnabled() {
		t.Error("DocsEnabled() = true, want false when section absent")
	}
	if got := cfg.Storage.StorageDriver(); got != "sqlite" {
		t.Errorf("StorageDriver() = %q, want sqlite when section absent", got)
	}
	if got := cfg.Provider.Endpoint(); got != "https://api.openai.com" {
		t.Errorf("Endpoint() = %q, want OpenAI default", got)
	}
	if got := cfg.Agent.MaxHistory(); got != 50 {
		t.Errorf("MaxHistory() = %d, want 50", got)
	}
	if got := cfg.Retention.MaxAge(); got != 30*24*time.Hour {
		t.Errorf("MaxAge() = %v, want 30 days when section absent", got)
	}
	if got := filepath.Base(cfg.DatabasePath()); got != "ngao.db" {
		t.Errorf("DatabasePath() base = %q, want ngao.db", got)
	}
	if got := filepath.Base(cfg.ResolvedAuditLogPath()); got != "security_audit.jsonl" {
		t.Errorf("ResolvedAuditLogPath() base = %q, want security_audit.jsonl", got)
	}
}

func TestLoadExplicitEmptyListsDisableDefaults(t *testing.T) {
	pinEnv(t)
	path := writeConfig(t, "config.json", `{
		"provider": {"api_key": "sk-test", "model": "gpt-4o-mini"},
		"security": {"allowed_file_types": [], "blocked_domains": []}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Security.FileTypesAllowed(); len(got) != 0 {
		t.Errorf("FileTypesAllowed() = %v, want empty for explicit []", got)
	}
	if got := cfg.Security.DomainsBlocked(); len(got) != 0 {
		t.Errorf("DomainsBlocked() = %v, want empty for explicit []", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	pinEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("NGAO_DATA_DIR", "/env/data")
	t.Setenv("NGAO_LISTEN_ADDR", ":7070")
	t.Setenv("NGAO_API_KEY", "gw-key")
	t.Setenv("NGAO_DB_DSN", "postgres://env@db/ngao")

	path := writeConfig(t, "config.json", `{
		"data_dir": "/file/data",
		"provider": {"api_key": "sk-file", "model": "gpt-4o-mini"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("Provider.APIKey = %q, want env value", cfg.Provider.APIKey)
	}
	if cfg.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want env value", cfg.DataDir)
	}
	if got := cfg.Gateway.Addr(); got != ":7070" {
		t.Errorf("Addr() = %q, want env value", got)
	}
	if got := cfg.Gateway.KeyUserMapping()["gw-key"]; got != "default" {
		t.Errorf("KeyUserMapping()[gw-key] = %q, want default", got)
	}
	if got := cfg.Storage.StorageDriver(); got != "postgres" {
		t.Errorf("StorageDriver() = %q, want postgres implied by NGAO_DB_DSN", got)
	}
	if got := cfg.Storage.Postgres.DSN; got != "postgres://env@db/ngao" {
		t.Errorf("Postgres.DSN = %q, want env value", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	pinEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil || !strings.Contains(err.Error(), "reading config") {
		t.Errorf("Load() error = %v, want reading config error", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	pinEnv(t)
	jsonPath := writeConfig(t, "config.json", `{"provider":`)
	if _, err := Load(jsonPath); err == nil || !strings.Contains(err.Error(), "parsing JSON") {
		t.Errorf("Load() error = %v, want parsing JSON error", err)
	}
	yamlPath := writeConfig(t, "config.yaml", "provider: [unclosed")
	if _, err := Load(yamlPath); err == nil || !strings.Contains(err.Error(), "parsing YAML") {
		t.Errorf("Load() error = %v, want parsing YAML error", err)
	}
}

func validConfig() *Config {
	return &Config{
		DataDir:  "/srv/ngao",
		Provider: ProviderConfig{APIKey: "sk-test", Model: "gpt-4o-mini"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid minimal",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.Provider.Model = "" },
			wantErr: "provider.model",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Provider.APIKey = "" },
			wantErr: "provider.api_key",
		},
		{
			name:    "negative execution ceiling",
			mutate:  func(c *Config) { c.Security.MaxExecutionSeconds = -1 },
			wantErr: "max_execution_seconds",
		},
		{
			name:    "cpu percent out of range",
			mutate:  func(c *Config) { c.Security.MaxCPUPercent = 150 },
			wantErr: "max_cpu_percent",
		},
		{
			name:    "unknown tool level",
			mutate:  func(c *Config) { c.Security.MaxToolLevel = "paranoid" },
			wantErr: `max_tool_level "paranoid"`,
		},
		{
			name:   "restricted tool level is accepted",
			mutate: func(c *Config) { c.Security.MaxToolLevel = "restricted" },
		},
		{
			name: "extension in both lists",
			mutate: func(c *Config) {
				c.Security.AllowedFileTypes = []string{".txt", ".py"}
				c.Security.BlockedFileTypes = []string{".exe", ".py"}
			},
			wantErr: `".py" appears in both`,
		},
		{
			name: "extension conflict is case insensitive",
			mutate: func(c *Config) {
				c.Security.AllowedFileTypes = []string{".TXT"}
				c.Security.BlockedFileTypes = []string{".txt"}
			},
			wantErr: "appears in both",
		},
		{
			name: "domain in both lists",
			mutate: func(c *Config) {
				c.Security.AllowedDomains = []string{"api.example.com"}
				c.Security.BlockedDomains = []string{"api.example.com"}
			},
			wantErr: "security.allowed_domains",
		},
		{
			name: "blocking a default-allowed extension is legal",
			mutate: func(c *Config) {
				c.Security.BlockedFileTypes = []string{".txt"}
			},
		},
		{
			name: "file tool extension conflict",
			mutate: func(c *Config) {
				c.Tools.File.AllowedFileTypes = []string{".csv"}
				c.Tools.File.BlockedFileTypes = []string{".csv"}
			},
			wantErr: "tools.file.allowed_file_types",
		},
		{
			name: "web tool domain conflict",
			mutate: func(c *Config) {
				c.Tools.Web.AllowedDomains = []string{"example.com"}
				c.Tools.Web.BlockedDomains = []string{"example.com"}
			},
			wantErr: "tools.web.allowed_domains",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.RateLimit = &RateLimitConfig{RequestsPerMinute: -1} },
			wantErr: "rate_limit",
		},
		{
			name:    "unsupported storage driver",
			mutate:  func(c *Config) { c.Storage = &StorageConfig{Driver: "mysql"} },
			wantErr: "not supported",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} },
			wantErr: "storage.postgres.dsn",
		},
		{
			name: "tracing without endpoint",
			mutate: func(c *Config) {
				c.Observability = &ObservabilityConfig{Tracing: &TracingConfig{Enabled: true}}
			},
			wantErr: "tracing.endpoint",
		},
		{
			name: "tracing bad protocol",
			mutate: func(c *Config) {
				c.Observability = &ObservabilityConfig{Tracing: &TracingConfig{Enabled: true, Endpoint: "otel:4317", Protocol: "udp"}}
			},
			wantErr: "protocol",
		},
		{
			name:    "mcp missing name",
			mutate:  func(c *Config) { c.Tools.MCP = []MCPServerConfig{{Transport: "stdio", Command: "x"}} },
			wantErr: "name is required",
		},
		{
			name: "mcp duplicate name",
			mutate: func(c *Config) {
				c.Tools.MCP = []MCPServerConfig{
					{Name: "gh", Transport: "stdio", Command: "x"},
					{Name: "gh", Transport: "stdio", Command: "y"},
				}
			},
			wantErr: "duplicate server name",
		},
		{
			name:    "mcp stdio without command",
			mutate:  func(c *Config) { c.Tools.MCP = []MCPServerConfig{{Name: "gh", Transport: "stdio"}} },
			wantErr: "command is required",
		},
		{
			name:    "mcp sse without url",
			mutate:  func(c *Config) { c.Tools.MCP = []MCPServerConfig{{Name: "gh", Transport: "sse"}} },
			wantErr: "url is required",
		},
		{
			name:    "mcp unknown transport",
			mutate:  func(c *Config) { c.Tools.MCP = []MCPServerConfig{{Name: "gh", Transport: "grpc"}} },
			wantErr: "transport must be",
		},
		{
			name: "mcp unknown security level",
			mutate: func(c *Config) {
				c.Tools.MCP = []MCPServerConfig{{Name: "gh", Transport: "stdio", Command: "x", SecurityLevel: "root"}}
			},
			wantErr: `security_level "root"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePathTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := resolvePath("~/ngao/config.json")
	if err != nil {
		t.Fatalf("resolvePath() error = %v", err)
	}
	want := filepath.Join(home, "ngao", "config.json")
	if got != want {
		t.Errorf("resolvePath() = %q, want %q", got, want)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	got := DefaultConfigPath()
	if !strings.Contains(got, ".ngao") && got != "configs/ngao.json" {
		t.Errorf("DefaultConfigPath() = %q, want a path under .ngao or the fallback", got)
	}
}
