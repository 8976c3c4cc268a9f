package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/gateway"
	"github.com/jkaninda/ngao/internal/gateway/httpapi"
	"github.com/jkaninda/ngao/internal/gateway/ws"
	"github.com/jkaninda/ngao/internal/observability"
	"github.com/jkaninda/ngao/internal/ratelimit"
	"github.com/jkaninda/ngao/internal/scheduler"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `ngao --config path` and `ngao serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")

	}
}

// runServe starts the HTTP API gateway and its background services.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("NGAO_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &config.GatewayConfig{}
		}
		cfg.Gateway.ListenAddr = servePort
	}

	logger.Info("starting in serve mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audit retention sweeper (optional).
	if cfg.Retention != nil && cfg.Retention.Enabled {
		var schedMetrics *scheduler.Metrics
		if sc.Obs != nil && sc.Obs.Metrics != nil {
			schedMetrics = scheduler.NewMetrics(sc.Obs.Metrics.Registry)
		}

		sweeper, err := scheduler.NewRetentionSweeper(sc.Store.Audit(), schedMetrics, logger, cfg.Retention)
		if err != nil {
			return fmt.Errorf("initializing retention sweeper: %w", err)
		}
		cancelSweeper := sweeper.Start(ctx)
		defer cancelSweeper()

		logger.Debug("retention sweeper initialized",
			slog.String("schedule", cfg.Retention.CronSchedule()),
			slog.String("max_age", cfg.Retention.MaxAge().String()),
		)
	}

	gateways := buildGateways(cfg, sc)
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildGateways assembles the HTTP API gateway with every surface the
// config enables hung off it.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gws []gateway.Gateway

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.PerMinute(),
		RequestsPerHour:   cfg.RateLimit.PerHour(),
	})

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		EnableDocs:     cfg.Gateway.DocsEnabled(),
		APIKeys:        cfg.Gateway.KeyUserMapping(),
		MaxRequestSize: cfg.Gateway.MaxRequestSize(),
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}

	httpGW := httpapi.NewGateway(httpCfg, sc.AgentCore, limiter, sc.Logger).
		WithTasks(sc.Tasks).
		WithTools(sc.ToolReg, sc.Runner).
		WithSecurity(sc.Security).
		WithAuditStore(sc.Store.Audit())
	if cfg.Gateway.SSEEnabled() {
		httpGW.WithSSE(true)
		sc.Logger.Debug("SSE streaming endpoint enabled")
	}

	// Live audit event stream, mounted on the HTTP server.
	if sc.Audit != nil {
		var metrics *observability.MetricsCollector
		if sc.Obs != nil {
			metrics = sc.Obs.Metrics
		}
		wsServer := ws.NewServer(ws.Config{APIKeys: httpCfg.APIKeys}, sc.Audit, metrics, sc.Logger)
		httpGW.WithHandler("/v1/security/events/ws", wsServer.Handler())
		sc.Logger.Debug("audit event stream mounted", slog.String("path", "/v1/security/events/ws"))
	}

	gws = append(gws, httpGW)
	return gws
}
