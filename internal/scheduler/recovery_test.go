package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailwarm/internal/model"
)

func persistRecord(t *testing.T, r *testRig, account string, dir model.Direction, fireAt time.Time) *model.PersistedJobRecord {
	t.Helper()

	sender, receiver := account, "poola@pools.test"
	if dir == model.PoolToWarmup {
		sender, receiver = receiver, sender
	}
	rec := &model.PersistedJobRecord{
		FireAt: fireAt,
		Job: model.EmailJob{
			Sender:       sender,
			Receiver:     receiver,
			Direction:    dir,
			AccountEmail: account,
		},
		AccountEmail: account,
		ScheduledAt:  fireAt.Add(-time.Hour),
	}
	require.NoError(t, r.store.Save(context.Background(), rec))
	return rec
}

func TestRecoverDeletesStaleRecords(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 5, 0, 5, 0)
	addPools(r, 1, 40)
	ctx := context.Background()

	persistRecord(t, r, "w@x.com", model.WarmupToPool, time.Now().Add(-48*time.Hour))

	require.NoError(t, r.orch.Recover(ctx))

	assert.Zero(t, r.orch.ArmedJobs())
	all, err := r.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, r.pub.count())
}

func TestRecoverDropsRecordsWithoutCapacity(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 3, 0, 3, 0)
	addPools(r, 1, 40)
	ctx := context.Background()

	// the sender's cap was consumed while the process was down
	_, err := r.ledger.IncrementSent(ctx, "w@x.com", model.RoleWarmup, 3)
	require.NoError(t, err)

	persistRecord(t, r, "w@x.com", model.WarmupToPool, time.Now().Add(2*time.Hour))

	require.NoError(t, r.orch.Recover(ctx))

	assert.Zero(t, r.orch.ArmedJobs())
	all, err := r.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecoverRearmsFutureRecords(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 5, 0, 5, 0)
	addPools(r, 1, 40)
	ctx := context.Background()

	persistRecord(t, r, "w@x.com", model.WarmupToPool, time.Now().Add(2*time.Hour))
	persistRecord(t, r, "w@x.com", model.PoolToWarmup, time.Now().Add(3*time.Hour))

	require.NoError(t, r.orch.Recover(ctx))

	// both wait out their remaining time; nothing fires early
	assert.Equal(t, 2, r.orch.ArmedJobs())
	assert.Zero(t, r.pub.count())
	all, err := r.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecoverReapsRecordsSurvivingTwoRestarts(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 5, 0, 5, 0)
	addPools(r, 1, 40)
	ctx := context.Background()

	// first boot plants the instance start stamp
	require.NoError(t, r.orch.Recover(ctx))

	// a record scheduled before that boot, still with a future fire time
	rec := &model.PersistedJobRecord{
		FireAt: time.Now().Add(2 * time.Hour),
		Job: model.EmailJob{
			Sender:       "w@x.com",
			Receiver:     "poola@pools.test",
			Direction:    model.WarmupToPool,
			AccountEmail: "w@x.com",
		},
		AccountEmail: "w@x.com",
		ScheduledAt:  time.Now().Add(-time.Minute),
	}
	require.NoError(t, r.store.Save(ctx, rec))

	require.NoError(t, r.orch.Recover(ctx))

	assert.Zero(t, r.orch.ArmedJobs())
	all, err := r.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecoverFiresJustMissedRecordsImmediately(t *testing.T) {
	r := newTestRig(t, time.Hour, time.Minute)
	addAccount(r, "w@x.com", 5, 0, 5, 0)
	addPools(r, 1, 40)
	ctx := context.Background()

	persistRecord(t, r, "w@x.com", model.WarmupToPool, time.Now().Add(-time.Second))

	require.NoError(t, r.orch.Recover(ctx))

	assert.Eventually(t, func() bool {
		return r.pub.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		all, err := r.store.ListAll(ctx)
		return err == nil && len(all) == 0
	}, 2*time.Second, 10*time.Millisecond)

	s, err := r.ledger.DailySummary(ctx, "w@x.com", model.RoleWarmup)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SentToday)
}
