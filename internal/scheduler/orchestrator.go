package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailwarm/internal/config"
	"mailwarm/internal/jobstore"
	"mailwarm/internal/ledger"
	"mailwarm/internal/model"
	"mailwarm/internal/plan"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/metrics"
	"mailwarm/pkg/trace"
	"mailwarm/pkg/util"
)

const (
	markerScopeRecent     = "recent"
	markerScopeDayAdvance = "day"
	markerScopeInstance   = "instance"
)

// WarmupAccounts is the slice of the account store the scheduler touches:
// progression fields are read, status and warmup day are written. The rest
// of the schema is someone else's problem.
type WarmupAccounts interface {
	ListActive(ctx context.Context) ([]*model.WarmupAccount, error)
	FindByEmail(ctx context.Context, email string) (*model.WarmupAccount, error)
	UpdateStatus(ctx context.Context, email, status string) error
	IncrementWarmupDay(ctx context.Context, email string) error
}

// PoolAccounts is the read-only view of the partner pool.
type PoolAccounts interface {
	ListActive(ctx context.Context) ([]*model.PoolAccount, error)
	FindByEmail(ctx context.Context, email string) (*model.PoolAccount, error)
}

// Orchestrator is the stateful core: it discovers eligible accounts, plans,
// clips against ledger capacity, persists, arms timers and fires jobs at
// the dispatch queue. One instance is constructed at process startup; there
// is no package-level state.
type Orchestrator struct {
	accounts WarmupAccounts
	pools    PoolAccounts
	ledger   *ledger.Ledger
	store    *jobstore.Store
	gen      *plan.Generator
	dispatch *Dispatcher
	marker   *util.Marker
	cfg      config.WarmupConfig
	logger   *zap.Logger

	// cycleRunning gates cycle entry: an overlapping cycle exits
	// immediately instead of queuing.
	cycleRunning atomic.Bool

	tmu    sync.Mutex
	timers map[string]*time.Timer
	owners map[string]string // job key -> owning account email

	stopCh chan struct{}
}

func New(
	accounts WarmupAccounts,
	pools PoolAccounts,
	ldg *ledger.Ledger,
	store *jobstore.Store,
	gen *plan.Generator,
	dispatch *Dispatcher,
	marker *util.Marker,
	cfg config.WarmupConfig,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		accounts: accounts,
		pools:    pools,
		ledger:   ldg,
		store:    store,
		gen:      gen,
		dispatch: dispatch,
		marker:   marker,
		cfg:      cfg,
		logger:   log,
		timers:   make(map[string]*time.Timer),
		owners:   make(map[string]string),
		stopCh:   make(chan struct{}),
	}
}

// Start runs recovery once, then sweeps globally on a ticker until ctx is
// cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	if err := o.Recover(ctx); err != nil {
		o.logger.Error("Startup recovery failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(o.cfg.GlobalInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				o.logger.Info("Orchestrator stopped")
				return
			case <-o.stopCh:
				return
			case <-ticker.C:
				if err := o.RunGlobalCycle(ctx); err != nil {
					o.logger.Error("Global scheduling cycle failed", zap.Error(err))
				}
			}
		}
	}()

	o.logger.Info("Orchestrator started",
		zap.Duration("global_interval", o.cfg.GlobalInterval),
	)
}

// Stop halts the sweep loop and disarms every timer. Persisted records are
// left in place for the next instance's recovery.
func (o *Orchestrator) Stop() {
	close(o.stopCh)

	o.tmu.Lock()
	defer o.tmu.Unlock()
	for key, t := range o.timers {
		t.Stop()
		delete(o.timers, key)
		delete(o.owners, key)
	}
}

// ScheduleAccount schedules one account immediately, right after it turned
// active. It scopes work to that account only and never triggers a fleet
// sweep; a marker keeps the next global cycle from redoing the work.
func (o *Orchestrator) ScheduleAccount(ctx context.Context, email string) error {
	ctx = trace.WithContext(ctx, trace.NewTraceID())
	log := logger.WithTrace(ctx, o.logger)
	start := time.Now()

	acct, err := o.accounts.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", email, err)
	}
	if acct.Status != model.StatusActive || !acct.Connected {
		return fmt.Errorf("account %s is not schedulable (status=%s connected=%t)",
			email, acct.Status, acct.Connected)
	}

	pools, err := o.pools.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pool accounts: %w", err)
	}

	if err := o.scheduleOne(ctx, acct, pools); err != nil {
		return err
	}

	// marked only after the work happened; a failed attempt must not
	// suppress the next global sweep
	o.marker.AcquireOnce(ctx, markerScopeRecent, email, o.cfg.RecentWindow)

	metrics.RecordCycleDuration("incremental", time.Since(start))
	log.Info("Incremental scheduling done", zap.String("account", email))
	return nil
}

// RunGlobalCycle sweeps all active accounts, topping up those whose
// persisted backlog has run low. Accounts recently handled incrementally
// and accounts with a sufficient backlog are skipped.
func (o *Orchestrator) RunGlobalCycle(ctx context.Context) error {
	if !o.cycleRunning.CompareAndSwap(false, true) {
		o.logger.Debug("Scheduling cycle already running, skipping")
		return nil
	}
	defer o.cycleRunning.Store(false)

	ctx = trace.WithContext(ctx, trace.NewTraceID())
	log := logger.WithTrace(ctx, o.logger)
	start := time.Now()

	accounts, err := o.accounts.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active accounts: %w", err)
	}
	pools, err := o.pools.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pool accounts: %w", err)
	}

	scheduled := 0
	for _, acct := range accounts {
		o.advanceWarmupDay(ctx, acct)

		if o.marker.IsSet(ctx, markerScopeRecent, acct.Email) {
			metrics.IncrementAccountSkipped("recent")
			continue
		}

		if o.hasSufficientBacklog(ctx, acct) {
			metrics.IncrementAccountSkipped("sufficient_backlog")
			continue
		}

		// one failing account never kills the cycle
		if err := o.scheduleOne(ctx, acct, pools); err != nil {
			metrics.IncrementAccountSkipped("generator_error")
			log.Warn("Skipping account in global cycle",
				zap.String("account", acct.Email),
				zap.Error(err),
			)
			continue
		}
		scheduled++
	}

	metrics.RecordCycleDuration("global", time.Since(start))
	log.Info("Global scheduling cycle done",
		zap.Int("accounts", len(accounts)),
		zap.Int("scheduled", scheduled),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// advanceWarmupDay bumps the ramp counter at most once per UTC day per
// account, guarded by a day marker. The marker check fails closed: without
// it every sweep during an outage would inflate the ramp toward MaxVolume.
func (o *Orchestrator) advanceWarmupDay(ctx context.Context, acct *model.WarmupAccount) {
	today := time.Now().UTC().Format("2006-01-02")
	subject := acct.Email + ":" + today
	acquired, err := o.marker.AcquireOnceStrict(ctx, markerScopeDayAdvance, subject, 48*time.Hour)
	if err != nil {
		o.logger.Warn("Day-advance marker unavailable, holding the ramp",
			zap.String("account", acct.Email),
			zap.Error(err),
		)
		return
	}
	if !acquired {
		return
	}
	if err := o.accounts.IncrementWarmupDay(ctx, acct.Email); err != nil {
		o.logger.Warn("Failed to advance warmup day",
			zap.String("account", acct.Email),
			zap.Error(err),
		)
		o.marker.Clear(ctx, markerScopeDayAdvance, subject)
		return
	}
	acct.WarmupDay++
}

// hasSufficientBacklog reports whether the account's persisted jobs already
// cover at least the configured fraction of today's remaining cap.
func (o *Orchestrator) hasSufficientBacklog(ctx context.Context, acct *model.WarmupAccount) bool {
	remaining := o.ledger.MaxSchedulable(ctx, acct.Email, model.RoleWarmup)
	if remaining == 0 && !plan.IsOrganizational(acct) {
		metrics.IncrementAccountSkipped("no_capacity")
		return true
	}

	backlog, err := o.store.CountByAccount(ctx, acct.Email)
	if err != nil {
		o.logger.Warn("Failed to count backlog, scheduling anyway",
			zap.String("account", acct.Email),
			zap.Error(err),
		)
		return false
	}
	return float64(backlog) >= o.cfg.SufficiencyRatio*float64(remaining)
}

// scheduleOne runs the per-account procedure: capacity pre-check, plan
// generation, clipping, persistence and timer arming.
func (o *Orchestrator) scheduleOne(ctx context.Context, acct *model.WarmupAccount, pools []*model.PoolAccount) error {
	log := logger.WithTrace(ctx, o.logger)

	organizational := plan.IsOrganizational(acct)

	warmupRemaining := o.ledger.MaxSchedulable(ctx, acct.Email, model.RoleWarmup)
	if warmupRemaining == 0 && !organizational {
		log.Info("Account has no outbound capacity left today",
			zap.String("account", acct.Email),
		)
		return nil
	}

	// drop pools that cannot receive or send anything today
	poolRemaining := make(map[string]int, len(pools))
	candidates := make([]*model.PoolAccount, 0, len(pools))
	for _, p := range pools {
		r := o.ledger.MaxSchedulable(ctx, p.Email, model.RolePool)
		if r == 0 {
			continue
		}
		poolRemaining[p.Email] = r
		candidates = append(candidates, p)
	}

	generated, err := o.gen.Generate(acct, candidates)
	if err != nil {
		return fmt.Errorf("plan generation failed for %s: %w", acct.Email, err)
	}

	admitted := o.clip(generated.Sequence, warmupRemaining, poolRemaining)

	now := time.Now()
	armed := 0
	for _, job := range admitted {
		if err := o.armJob(ctx, acct, job, now); err != nil {
			log.Warn("Failed to arm job, leaving it unscheduled",
				zap.String("account", acct.Email),
				zap.String("receiver", job.Receiver),
				zap.Error(err),
			)
			continue
		}
		armed++
	}

	log.Info("Account scheduled",
		zap.String("account", acct.Email),
		zap.Int("warmup_day", generated.WarmupDay),
		zap.Int("planned", generated.TotalCount),
		zap.Int("outbound", generated.OutboundCount),
		zap.Int("inbound", generated.InboundCount),
		zap.Int("admitted", len(admitted)),
		zap.Int("armed", armed),
		zap.Bool("organizational", organizational),
	)
	return nil
}

// clip walks the shuffled sequence once, admitting a job only while its
// relevant capacity counter still has headroom. Order is preserved so the
// persisted set keeps the generator's randomization.
func (o *Orchestrator) clip(seq []model.EmailJob, warmupRemaining int, poolRemaining map[string]int) []model.EmailJob {
	admitted := make([]model.EmailJob, 0, len(seq))
	for _, job := range seq {
		switch job.Direction {
		case model.WarmupToPool:
			if warmupRemaining <= 0 {
				continue
			}
			warmupRemaining--
		case model.PoolToWarmup:
			if poolRemaining[job.Sender] <= 0 {
				continue
			}
			poolRemaining[job.Sender]--
		}
		admitted = append(admitted, job)
	}
	return admitted
}

// armJob persists one admitted job and arms its timer. If persistence
// fails the timer is never armed: an in-memory-only job would be lost
// forever on restart.
func (o *Orchestrator) armJob(ctx context.Context, acct *model.WarmupAccount, job model.EmailJob, now time.Time) error {
	var snapshot model.LedgerSnapshot
	if s, err := o.ledger.DailySummary(ctx, acct.Email, model.RoleWarmup); err == nil {
		snapshot = model.LedgerSnapshot{SentToday: s.SentToday, Cap: s.Cap}
	}

	rec := &model.PersistedJobRecord{
		FireAt:       now.Add(job.Delay),
		Job:          job,
		AccountEmail: acct.Email,
		Snapshot:     snapshot,
		ScheduledAt:  now,
	}

	if err := o.store.Save(ctx, rec); err != nil {
		return err
	}

	o.armTimer(rec)
	return nil
}

// armTimer arms an in-process timer for the record's remaining time to
// fire. The handle is stored for O(1) cancellation.
func (o *Orchestrator) armTimer(rec *model.PersistedJobRecord) {
	delay := time.Until(rec.FireAt)
	if delay < 0 {
		delay = 0
	}

	key := rec.Key()

	o.tmu.Lock()
	if old, ok := o.timers[key]; ok {
		old.Stop() // idempotent re-arm supersedes the previous timer
	}
	o.timers[key] = time.AfterFunc(delay, func() {
		o.executeJob(rec)
	})
	o.owners[key] = rec.AccountEmail
	o.tmu.Unlock()

	metrics.JobsArmed.Inc()
}

// CancelAccount disarms every timer owned by the account and deletes its
// persisted records. Jobs already past their fire time are not cancelled;
// they either published or were dropped for lack of capacity.
func (o *Orchestrator) CancelAccount(ctx context.Context, email string) error {
	cancelled := 0
	o.tmu.Lock()
	for key, owner := range o.owners {
		if owner != email {
			continue
		}
		if t, ok := o.timers[key]; ok {
			t.Stop()
			delete(o.timers, key)
		}
		delete(o.owners, key)
		cancelled++
	}
	o.tmu.Unlock()

	deleted, err := o.store.DeleteByAccount(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to delete persisted jobs for %s: %w", email, err)
	}

	for i := 0; i < cancelled; i++ {
		metrics.JobsCancelled.Inc()
	}

	o.logger.Info("Cancelled account's pending jobs",
		zap.String("account", email),
		zap.Int("timers", cancelled),
		zap.Int("records", deleted),
	)
	return nil
}

// ActivateAccount flips the account active and schedules it incrementally.
// Activation and scheduling are decoupled: if scheduling cannot proceed
// (no pools, say), the status change still sticks and the reason comes
// back as a warning.
func (o *Orchestrator) ActivateAccount(ctx context.Context, email string) (warning string, err error) {
	if err := o.accounts.UpdateStatus(ctx, email, model.StatusActive); err != nil {
		return "", fmt.Errorf("failed to activate %s: %w", email, err)
	}

	if err := o.ScheduleAccount(ctx, email); err != nil {
		o.logger.Warn("Activation succeeded but scheduling did not",
			zap.String("account", email),
			zap.Error(err),
		)
		return fmt.Sprintf("activated, but scheduling skipped: %v", err), nil
	}
	return "", nil
}

// PauseAccount flips the account paused and cancels its pending work.
func (o *Orchestrator) PauseAccount(ctx context.Context, email string) error {
	if err := o.accounts.UpdateStatus(ctx, email, model.StatusPaused); err != nil {
		return fmt.Errorf("failed to pause %s: %w", email, err)
	}
	return o.CancelAccount(ctx, email)
}

// ArmedJobs reports how many timers are currently armed, for diagnostics.
func (o *Orchestrator) ArmedJobs() int {
	o.tmu.Lock()
	defer o.tmu.Unlock()
	return len(o.timers)
}
