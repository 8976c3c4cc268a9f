package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/ngao/internal/agent"
	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/llm"
	"github.com/jkaninda/ngao/internal/llm/openai"
	"github.com/jkaninda/ngao/internal/multimodal"
	"github.com/jkaninda/ngao/internal/observability"
	"github.com/jkaninda/ngao/internal/sandbox"
	"github.com/jkaninda/ngao/internal/security"
	"github.com/jkaninda/ngao/internal/storage"
	pgstore "github.com/jkaninda/ngao/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/ngao/internal/storage/sqlite"
	"github.com/jkaninda/ngao/internal/task"
	"github.com/jkaninda/ngao/internal/tools"
	codetool "github.com/jkaninda/ngao/internal/tools/code"
	filetool "github.com/jkaninda/ngao/internal/tools/file"
	mcptools "github.com/jkaninda/ngao/internal/tools/mcp"
	texttool "github.com/jkaninda/ngao/internal/tools/text"
	webtool "github.com/jkaninda/ngao/internal/tools/web"
)

// codeExecutor is the sandbox surface the security manager consumes.
// Both *sandbox.Sandbox and the instrumented wrapper satisfy it.
type codeExecutor interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (map[string]any, error)
}

// auditRecorder is the audit surface the security manager and the tool
// runner consume. Both *security.AuditLogger and the instrumented
// wrapper satisfy it.
type auditRecorder interface {
	Log(ctx context.Context, eventType, userID string, details map[string]any)
	Events(eventType string, limit int) []security.AuditEvent
	ClearEvents()
	Stats() security.Stats
	Close() error
}

// securityGate is the manager surface the tools consume. Both
// *security.Manager and the instrumented wrapper satisfy it.
type securityGate interface {
	ExecuteCodeSafely(ctx context.Context, code string, timeout time.Duration, userID string) (map[string]any, error)
	ValidateFileOperation(ctx context.Context, path, operation, userID string) bool
	ValidateNetworkRequest(ctx context.Context, rawURL, method, userID string) bool
}

// SharedComponents holds all initialized subsystems that both serve and
// chat modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).
	OrgID  uuid.UUID     // Resolved org ID.

	Obs         *observability.Observability
	LLMProvider llm.Provider
	Security    *security.Manager
	Audit       *security.AuditLogger
	Tasks       *task.Registry
	ToolReg     *tools.Registry
	Runner      *tools.Runner
	AgentCore   agent.Agent

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between serve and chat modes.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Resolve audit log path from data directory if not set in config.
	if cfg.Security.AuditLogPath == "" {
		cfg.Security.AuditLogPath = cfg.ResolvedAuditLogPath()
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// LLM provider.
	llmProvider := newLLMProvider(cfg, logger)
	logger.Debug("llm provider initialized", slog.String("provider", llmProvider.Name()))

	if obs != nil && obs.Metrics != nil {
		llmProvider = observability.NewInstrumentedProvider(
			llmProvider, cfg.Provider.Model, obs.Metrics, obs.TracerOrNil(),
		)
	}
	sc.LLMProvider = llmProvider

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	orgName := cfg.Storage.OrgName()
	orgID, err := store.EnsureOrg(context.Background(), orgName)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("ensuring default org: %w", err)
	}
	sc.OrgID = orgID
	logger.Debug("org initialized",
		slog.String("org_name", orgName),
		slog.String("org_id", orgID.String()),
	)

	// Security pipeline: policy, audit trail, checkers, sandbox, manager.
	policy := buildPolicy(cfg)

	auditDir := filepath.Dir(cfg.Security.AuditLogPath)
	if err := os.MkdirAll(auditDir, 0750); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("creating audit log directory %s: %w", auditDir, err)
	}

	// Audit events land in the ring, the JSONL file, and the store.
	auditLogger, err := security.NewAuditLogger(policy, store.Audit(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing audit logger: %w", err)
	}
	sc.Audit = auditLogger

	fileChecker := security.NewFileChecker(policy, logger)
	networkChecker := security.NewNetworkChecker(policy, logger)
	sbx := sandbox.New(policy, logger)

	var exec codeExecutor = sbx
	var auditRec auditRecorder = auditLogger
	if obs != nil && obs.Metrics != nil {
		exec = observability.NewInstrumentedSandbox(sbx, obs.Metrics, obs.TracerOrNil())
		auditRec = observability.NewInstrumentedAudit(auditLogger, obs.Metrics)
	}

	secMgr := security.NewManager(exec, fileChecker, networkChecker, auditRec, logger)
	sc.Security = secMgr
	sc.addCleanup(func() {
		if err := secMgr.Close(); err != nil {
			logger.Error("closing security manager", slog.String("error", err.Error()))
		}
	})
	logger.Debug("security initialized",
		slog.Bool("sandbox", policy.SandboxEnabled),
		slog.Bool("audit", policy.AuditEnabled),
		slog.String("store", store.Driver()),
	)

	var gate securityGate = secMgr
	if obs != nil && obs.Metrics != nil {
		gate = observability.NewInstrumentedManager(secMgr, obs.Metrics, obs.TracerOrNil())
	}

	// Task profiles.
	tasks := task.NewRegistry()
	sc.Tasks = tasks

	// Tool registry. Every tool goes through the security gate.
	toolReg := tools.NewRegistry()
	if !cfg.Tools.Code.Disabled {
		toolReg.Register(codetool.NewTool(codetool.Config{
			Timeout: cfg.Tools.Code.Timeout(),
		}, gate, logger))
	}
	if !cfg.Tools.File.Disabled {
		validator := security.NewToolValidator(fileToolConfiguration(cfg), logger)
		fileCfg := filetool.Config{MaxFileSizeBytes: cfg.Tools.File.MaxFileSizeBytes}
		toolReg.Register(filetool.NewReadTool(fileCfg, gate, validator, logger))
		toolReg.Register(filetool.NewWriteTool(fileCfg, gate, validator, logger))
	}
	if !cfg.Tools.Web.Disabled {
		validator := security.NewToolValidator(webToolConfiguration(cfg), logger)
		toolReg.Register(webtool.NewTool(webtool.Config{
			MaxResponseBytes: cfg.Tools.Web.MaxResponse(),
			Timeout:          cfg.Tools.Web.Timeout(),
		}, gate, validator, logger))
	}
	if !cfg.Tools.Text.Disabled {
		toolReg.Register(texttool.NewTool(logger))
	}
	logger.Debug("tools registered", slog.Any("tools", toolReg.List()))

	// MCP tool servers.
	if len(cfg.Tools.MCP) > 0 {
		mcpBridge := mcptools.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, mcpCfg := range cfg.Tools.MCP {
			mcpToolList, mcpErr := mcpBridge.ConnectAndDiscover(mcpCtx, mcpCfg)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			for _, t := range mcpToolList {
				toolReg.Register(t)
			}
		}
		mcpCancel()
		sc.addCleanup(mcpBridge.Close)
		logger.Debug("tools registered (with MCP)", slog.Any("tools", toolReg.List()))
	}
	sc.ToolReg = toolReg

	maxLevel := security.ParseLevel(cfg.Security.ToolLevel())
	sc.Runner = tools.NewRunner(toolReg, maxLevel, auditRec, logger)

	// The input normalizer shares the security checkers so attachment
	// probes obey the same policy as tool calls.
	normalizer := multimodal.NewNormalizer(fileChecker, networkChecker, nil, logger)

	// Health checks.
	if obs != nil && obs.Health != nil {
		if cfg.Observability != nil && cfg.Observability.Health != nil && cfg.Observability.Health.IncludeDB {
			obs.Health.AddCheck("database", store.Ping)
		}
	}

	// Agent core.
	agentCore := agent.NewOrchestrator(llmProvider, tasks, logger).
		WithTools(toolReg, sc.Runner).
		WithNormalizer(normalizer).
		WithSessions(agent.NewInMemorySessionStore(), cfg.Agent.MaxHistory(), 0).
		WithObservability(obs).
		WithMaxIterations(cfg.Agent.ToolIterations())
	sc.AgentCore = agentCore

	return sc, nil
}

// buildPolicy converts config security settings to the enforced policy.
func buildPolicy(cfg *config.Config) security.Policy {
	return security.Policy{
		SandboxEnabled:     !cfg.Security.DisableSandbox,
		MaxExecutionTime:   cfg.Security.MaxExecution(),
		MaxMemoryBytes:     cfg.Security.MaxMemoryBytes(),
		MaxCPUPercent:      cfg.Security.CPUPercent(),
		AllowedDirs:        cfg.Security.Dirs(),
		MaxFileSizeBytes:   cfg.Security.MaxFileSize(),
		AllowedFileTypes:   cfg.Security.FileTypesAllowed(),
		BlockedFileTypes:   cfg.Security.FileTypesBlocked(),
		AllowedDomains:     cfg.Security.AllowedDomains,
		BlockedDomains:     cfg.Security.DomainsBlocked(),
		MaxNetworkRequests: cfg.Security.NetworkRequests(),
		AuditEnabled:       !cfg.Security.DisableAudit,
		AuditLogPath:       cfg.Security.AuditLogPath,
		AuditRingSize:      cfg.Security.RingSize(),
	}
}

// fileToolConfiguration narrows the baseline tool configuration with
// the file tool settings from config.
func fileToolConfiguration(cfg *config.Config) security.ToolConfiguration {
	tc := security.DefaultToolConfiguration()
	if cfg.Tools.File.MaxFileSizeBytes > 0 {
		tc.MaxFileSizeBytes = cfg.Tools.File.MaxFileSizeBytes
	}
	tc.AllowedFileTypes = cfg.Tools.File.AllowedFileTypes
	tc.BlockedFileTypes = cfg.Tools.File.BlockedFileTypes
	return tc
}

// webToolConfiguration narrows the baseline tool configuration with the
// web tool settings from config.
func webToolConfiguration(cfg *config.Config) security.ToolConfiguration {
	tc := security.DefaultToolConfiguration()
	tc.AllowedDomains = cfg.Tools.Web.AllowedDomains
	tc.BlockedDomains = cfg.Tools.Web.BlockedDomains
	return tc
}

// initStore creates the storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.DatabasePath(),
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	// Config validation guarantees the DSN when the driver is postgres.
	pg := cfg.Storage.Postgres
	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	return pgstore.NewStore(pgDB), nil
}

// newLLMProvider creates the OpenAI-compatible chat completions client.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) llm.Provider {
	return openai.NewClient(
		cfg.Provider.APIKey,
		cfg.Provider.Model,
		logger,
		openai.WithBaseURL(cfg.Provider.Endpoint()),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Provider.Timeout()}),
	)
}
