// Package scheduler implements background maintenance jobs for Ngao.
// Its single job today is the audit retention sweeper, which purges
// stored audit events older than the configured window on a cron
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/security"
)

// RetentionSweeper purges aged audit events from the store.
// It runs as a background goroutine in gateway mode.
type RetentionSweeper struct {
	store   security.AuditStore
	metrics *Metrics
	logger  *slog.Logger
	config  *config.RetentionConfig
	sched   cron.Schedule
}

// NewRetentionSweeper creates a RetentionSweeper. The configured cron
// schedule is validated here so a bad expression fails startup instead
// of silently never sweeping.
func NewRetentionSweeper(store security.AuditStore, metrics *Metrics, logger *slog.Logger, cfg *config.RetentionConfig) (*RetentionSweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.CronSchedule())
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.CronSchedule(), err)
	}
	return &RetentionSweeper{
		store:   store,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		sched:   sched,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (s *RetentionSweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "retention sweeper started",
			slog.String("schedule", s.config.CronSchedule()),
			slog.String("max_age", s.config.MaxAge().String()),
		)

		for {
			next := s.sched.Next(time.Now().UTC())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("retention sweeper stopped")
				return
			case <-timer.C:
				s.sweep(ctx)
			}
		}
	}()

	return cancel
}

// sweep runs a single purge cycle against the audit store.
func (s *RetentionSweeper) sweep(ctx context.Context) {
	start := time.Now()
	cutoff := start.UTC().Add(-s.config.MaxAge())

	removed, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "retention sweep failed",
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.SweepFailures.Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
		s.metrics.EventsPurged.Add(float64(removed))
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}

	if removed > 0 {
		s.logger.InfoContext(ctx, "purged expired audit events",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff),
		)
	}
}
