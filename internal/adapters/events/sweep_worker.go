package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/domain"
)

// SweepWorker periodically evaluates every eligible account through the
// previous completed UTC day. Re-running within the same day is harmless:
// the per-account watermark makes each (account, day) evaluation apply
// once. The same watermark drives catch-up after an outage, so days missed
// across a restart get evaluated on the next tick rather than skipped.
type SweepWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewSweepWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SweepWorker{
		logger:   logger,
		service:  service,
		interval: interval,
	}
}

// Run executes the periodic sweep loop until context cancellation.
func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		day := domain.DayOf(time.Now().UTC().AddDate(0, 0, -1))
		if _, err := w.service.RunDailySweep(ctx, day); err != nil {
			w.logger.ErrorContext(ctx, "daily sweep iteration failed",
				"module", "events.sweep_worker",
				"layer", "adapter",
				"operation", "run_daily_sweep",
				"outcome", "failure",
				"day", day.Format("2006-01-02"),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
