package scheduler

import (
	"context"

	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/metrics"
	"mailwarm/pkg/trace"
)

// executeJob runs when a job's timer fires. Capacity may have been consumed
// by anything since scheduling, so the target side is re-validated by the
// atomic reservation itself: of two jobs racing for the last unit, exactly
// one reserves it and the other is dropped cleanly.
func (o *Orchestrator) executeJob(rec *model.PersistedJobRecord) {
	key := rec.Key()

	o.tmu.Lock()
	delete(o.timers, key)
	delete(o.owners, key)
	o.tmu.Unlock()

	ctx := trace.WithContext(context.Background(), trace.NewTraceID())
	log := logger.WithTrace(ctx, o.logger).With(
		zap.String("account", rec.AccountEmail),
		zap.String("sender", rec.Job.Sender),
		zap.String("receiver", rec.Job.Receiver),
		zap.String("direction", string(rec.Job.Direction)),
	)

	target := rec.Job.TargetEmail()
	role := rec.Job.TargetRole()

	reserved, err := o.ledger.Reserve(ctx, target, role)
	if err != nil {
		// fail closed: no reservation, no publish
		log.Warn("Ledger unavailable at fire time, dropping job", zap.Error(err))
		o.deleteRecord(ctx, key, log)
		metrics.IncrementJobFired("dropped_no_capacity")
		return
	}
	if !reserved {
		log.Info("Capacity exhausted at fire time, dropping job")
		o.deleteRecord(ctx, key, log)
		metrics.IncrementJobFired("dropped_no_capacity")
		return
	}

	if err := o.dispatch.PublishJob(ctx, rec.Job); err != nil {
		// The ledger must never count a message that was never handed to
		// the dispatch layer.
		if revErr := o.ledger.Reverse(ctx, target, role, 1); revErr != nil {
			log.Error("Failed to reverse reservation after publish failure",
				zap.Error(revErr),
			)
		}
		log.Error("Dispatch publish failed, reservation reversed", zap.Error(err))
		o.deleteRecord(ctx, key, log)
		metrics.IncrementJobFired("publish_failed")
		return
	}

	o.deleteRecord(ctx, key, log)
	metrics.IncrementJobFired("published")
	log.Info("Job published to dispatch queue")
}

// deleteRecord removes the persisted record. A failed delete is logged and
// tolerated: the lingering record is cleaned up by the next recovery pass.
func (o *Orchestrator) deleteRecord(ctx context.Context, key string, log *zap.Logger) {
	if err := o.store.Delete(ctx, key); err != nil {
		log.Warn("Failed to delete job record, recovery will reap it",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
