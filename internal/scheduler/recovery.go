package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailwarm/pkg/metrics"
)

// Recover reloads persisted jobs after a restart, before the first cycle.
// Stale records are deleted; survivors are re-validated against current
// capacity and re-armed for their remaining time to fire. A job is never
// re-armed once its key has been deleted, and capacity is reserved only at
// actual fire time, so a crash between persist and arm neither loses a job
// nor double-counts it.
func (o *Orchestrator) Recover(ctx context.Context) error {
	start := time.Now()

	// prevStart is when the previous instance booted. Records scheduled
	// before that were already recovered once and never refreshed since.
	prevStart := o.marker.RotateStamp(ctx, markerScopeInstance, "start", start)

	records, err := o.store.ListAll(ctx)
	if err != nil {
		return err
	}

	rearmed, stale, noCapacity := 0, 0, 0
	for _, rec := range records {
		log := o.logger.With(
			zap.String("account", rec.AccountEmail),
			zap.Time("fire_at", rec.FireAt),
		)

		// Warmup timing loses meaning after a day; don't retry forever.
		// The same goes for records surviving a second restart unrefreshed.
		if time.Since(rec.FireAt) > o.cfg.StaleAfter ||
			(!prevStart.IsZero() && rec.ScheduledAt.Before(prevStart)) {
			o.deleteRecord(ctx, rec.Key(), log)
			metrics.IncrementRecoveredJob("stale")
			stale++
			continue
		}

		// The world may have changed while the process was down.
		if !o.ledger.CanSend(ctx, rec.Job.TargetEmail(), rec.Job.TargetRole()) {
			o.deleteRecord(ctx, rec.Key(), log)
			metrics.IncrementRecoveredJob("no_capacity")
			noCapacity++
			continue
		}

		// Re-arm for the remaining time to fire, not a fresh delay.
		// Records whose fire time just passed fire immediately.
		o.armTimer(rec)
		metrics.IncrementRecoveredJob("rearmed")
		rearmed++
	}

	metrics.RecordCycleDuration("recovery", time.Since(start))
	o.logger.Info("Recovery complete",
		zap.Int("loaded", len(records)),
		zap.Int("rearmed", rearmed),
		zap.Int("stale", stale),
		zap.Int("no_capacity", noCapacity),
	)
	return nil
}
