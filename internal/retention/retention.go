// Package retention prunes stale conversations from the local store on a
// cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatflow/pkg/config"
	"chatflow/pkg/logger"
	"chatflow/pkg/store"
)

// Start launches the retention scheduler if enabled and returns a cancel
// func. A disabled config returns a no-op cancel.
func Start(ctx context.Context, cfg config.RetentionConfig, st *store.Store) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	period, err := cfg.RetentionPeriod()
	if err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period, cfg.BatchSize, st)
	logger.Info("retention_scheduler_started", "cron", cronExpr, "period", period.String())
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, running one prune pass per tick.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration, batchSize int, st *store.Store) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}

		if err := RunOnce(st, period, batchSize); err != nil {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

// RunOnce performs a single prune pass. Exported so the debug surface and
// tests can trigger a run on demand.
func RunOnce(st *store.Store, period time.Duration, batchSize int) error {
	cutoff := time.Now().UTC().Add(-period)
	removed, err := st.Prune(cutoff, batchSize)
	if err != nil {
		return err
	}
	logger.Info("retention_run_complete", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
