package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/internal/config"
	"mailwarm/internal/jobstore"
	"mailwarm/internal/ledger"
	"mailwarm/internal/model"
	"mailwarm/internal/plan"
	"mailwarm/pkg/util"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*model.WarmupAccount
}

func (f *fakeAccounts) ListActive(ctx context.Context) ([]*model.WarmupAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WarmupAccount
	for _, a := range f.accounts {
		if a.Status == model.StatusActive && a.Connected {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) FindByEmail(ctx context.Context, email string) (*model.WarmupAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[email]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return a, nil
}

func (f *fakeAccounts) UpdateStatus(ctx context.Context, email, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		a.Status = status
	}
	return nil
}

func (f *fakeAccounts) IncrementWarmupDay(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		a.WarmupDay++
	}
	return nil
}

type fakePools struct {
	pools []*model.PoolAccount
}

func (f *fakePools) ListActive(ctx context.Context) ([]*model.PoolAccount, error) {
	return f.pools, nil
}

func (f *fakePools) FindByEmail(ctx context.Context, email string) (*model.PoolAccount, error) {
	for _, p := range f.pools {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, errors.New("no rows in result set")
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string // routing keys
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, routingKey)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type testRig struct {
	orch     *Orchestrator
	accounts *fakeAccounts
	pools    *fakePools
	pub      *fakePublisher
	ledger   *ledger.Ledger
	store    *jobstore.Store
	marker   *util.Marker
	mr       *miniredis.Miniredis
}

// newTestRig wires an orchestrator over miniredis with a compressed send
// window so timers fire within the test.
func newTestRig(t *testing.T, sendWindow, minGap time.Duration) *testRig {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	accounts := &fakeAccounts{accounts: map[string]*model.WarmupAccount{}}
	pools := &fakePools{}
	pub := &fakePublisher{}
	log := zap.NewNop()

	resolveCap := func(ctx context.Context, email string, role model.Role) (int, error) {
		if role == model.RolePool {
			p, err := pools.FindByEmail(ctx, email)
			if err != nil || p.DailyCap <= 0 {
				return 40, nil
			}
			return p.DailyCap, nil
		}
		a, err := accounts.FindByEmail(ctx, email)
		if err != nil {
			return 0, err
		}
		return a.TargetVolume(), nil
	}

	ldg := ledger.New(rdb, resolveCap, log)
	store := jobstore.New(rdb, log)
	marker := util.NewMarker(rdb, log)
	gen := plan.NewGenerator(plan.Config{SendWindow: sendWindow, MinGap: minGap},
		rand.New(rand.NewSource(7)))

	cfg := config.WarmupConfig{}
	cfg.ApplyDefaults()

	orch := New(accounts, pools, ldg, store, gen,
		NewDispatcher(pub, log), marker, cfg, log)
	t.Cleanup(orch.Stop)

	return &testRig{
		orch: orch, accounts: accounts, pools: pools, pub: pub,
		ledger: ldg, store: store, marker: marker, mr: mr,
	}
}

func addAccount(r *testRig, email string, start, inc, max, day int) *model.WarmupAccount {
	a := &model.WarmupAccount{
		Email:         email,
		Status:        model.StatusActive,
		Connected:     true,
		StartVolume:   start,
		DailyIncrease: inc,
		MaxVolume:     max,
		WarmupDay:     day,
	}
	r.accounts.accounts[email] = a
	return a
}

func addPools(r *testRig, n, cap int) {
	for i := 0; i < n; i++ {
		r.pools.pools = append(r.pools.pools, &model.PoolAccount{
			Email:    "pool" + string(rune('a'+i)) + "@pools.test",
			Active:   true,
			DailyCap: cap,
		})
	}
}

func TestScheduleAccountArmsAndFires(t *testing.T) {
	r := newTestRig(t, 50*time.Millisecond, time.Millisecond)
	addAccount(r, "w@x.com", 2, 0, 2, 0)
	addPools(r, 2, 40)
	ctx := context.Background()

	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))

	// volume 2 -> one out/in pair, both fire and publish
	assert.Eventually(t, func() bool {
		return r.pub.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		all, err := r.store.ListAll(ctx)
		return err == nil && len(all) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// one outbound reserved on the warmup side, one inbound on the pool side
	s, err := r.ledger.DailySummary(ctx, "w@x.com", model.RoleWarmup)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SentToday)
}

func TestScheduleAccountClipsAgainstCapacity(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 5, 0, 5, 0)
	addPools(r, 3, 40)
	ctx := context.Background()

	// 4 of 5 outbound slots already burned today
	_, err := r.ledger.IncrementSent(ctx, "w@x.com", model.RoleWarmup, 4)
	require.NoError(t, err)

	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))

	// plan is 3 out + 2 in; only 1 outbound fits the remaining capacity
	n, err := r.store.CountByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, r.orch.ArmedJobs())
}

func TestScheduleAccountWithoutPoolsFailsButDoesNotArm(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 3, 0, 10, 0)
	ctx := context.Background()

	err := r.orch.ScheduleAccount(ctx, "w@x.com")
	assert.ErrorIs(t, err, plan.ErrNoPoolAccounts)
	assert.Zero(t, r.orch.ArmedJobs())
}

func TestPublishFailureReversesReservation(t *testing.T) {
	r := newTestRig(t, 30*time.Millisecond, time.Millisecond)
	addAccount(r, "w@x.com", 1, 0, 1, 0)
	addPools(r, 1, 40)
	r.pub.err = errors.New("broker unreachable")
	ctx := context.Background()

	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))

	assert.Eventually(t, func() bool {
		all, err := r.store.ListAll(ctx)
		return err == nil && len(all) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// the ledger must not count a message that never reached the queue
	s, err := r.ledger.DailySummary(ctx, "w@x.com", model.RoleWarmup)
	require.NoError(t, err)
	assert.Equal(t, 0, s.SentToday)
	assert.Zero(t, r.pub.count())
}

func TestCancelAccountDisarmsAndDeletes(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 4, 0, 4, 0)
	addPools(r, 2, 40)
	ctx := context.Background()

	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))
	require.Equal(t, 4, r.orch.ArmedJobs())

	require.NoError(t, r.orch.CancelAccount(ctx, "w@x.com"))

	assert.Zero(t, r.orch.ArmedJobs())
	records, err := r.store.ListByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPauseCancelsPendingWork(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 2, 0, 2, 0)
	addPools(r, 1, 40)
	ctx := context.Background()

	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))
	require.NotZero(t, r.orch.ArmedJobs())

	require.NoError(t, r.orch.PauseAccount(ctx, "w@x.com"))

	assert.Equal(t, model.StatusPaused, r.accounts.accounts["w@x.com"].Status)
	assert.Zero(t, r.orch.ArmedJobs())
}

func TestActivateWithoutPoolsSucceedsWithWarning(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	a := addAccount(r, "w@x.com", 3, 0, 10, 0)
	a.Status = model.StatusPaused
	ctx := context.Background()

	warning, err := r.orch.ActivateAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, model.StatusActive, a.Status)
}

func TestGlobalCycleSkipsRecentlyScheduledAccounts(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 4, 0, 4, 0)
	addPools(r, 2, 40)
	ctx := context.Background()

	// incremental scheduling marks the account, then drop its backlog so
	// only the marker can explain a skip
	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))
	require.NoError(t, r.orch.CancelAccount(ctx, "w@x.com"))

	require.NoError(t, r.orch.RunGlobalCycle(ctx))
	n, err := r.store.CountByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.Zero(t, n)

	r.marker.Clear(ctx, "recent", "w@x.com")

	require.NoError(t, r.orch.RunGlobalCycle(ctx))
	n, err = r.store.CountByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.NotZero(t, n)
}

func TestGlobalCycleHoldsWarmupDayWhenStoreDown(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	a := addAccount(r, "w@x.com", 3, 1, 25, 0)
	addPools(r, 2, 40)
	ctx := context.Background()

	r.mr.Close()

	// an unreachable marker store must hold the ramp, not advance it on
	// every sweep
	for i := 0; i < 3; i++ {
		require.NoError(t, r.orch.RunGlobalCycle(ctx))
	}
	assert.Equal(t, 0, a.WarmupDay)
}

func TestFailedIncrementalDoesNotSuppressGlobalCycle(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 4, 0, 4, 0)
	ctx := context.Background()

	err := r.orch.ScheduleAccount(ctx, "w@x.com")
	require.ErrorIs(t, err, plan.ErrNoPoolAccounts)

	// pools come online afterwards; the failed attempt did no work, so the
	// next sweep must pick the account up immediately
	addPools(r, 2, 40)

	require.NoError(t, r.orch.RunGlobalCycle(ctx))
	n, err := r.store.CountByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGlobalCycleSkipsSufficientBacklog(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 4, 0, 4, 0)
	addPools(r, 2, 40)
	ctx := context.Background()

	require.NoError(t, r.orch.ScheduleAccount(ctx, "w@x.com"))
	n, err := r.store.CountByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	require.Equal(t, 4, n)

	r.marker.Clear(ctx, "recent", "w@x.com")

	// backlog (4) covers remaining cap (4) well past the 50% threshold
	require.NoError(t, r.orch.RunGlobalCycle(ctx))
	n, err = r.store.CountByAccount(ctx, "w@x.com")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, r.orch.ArmedJobs())
}
