package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, zap.NewNop())
}

func record(account, sender, receiver string, dir model.Direction, fireAt time.Time) *model.PersistedJobRecord {
	return &model.PersistedJobRecord{
		FireAt: fireAt,
		Job: model.EmailJob{
			Sender:       sender,
			Receiver:     receiver,
			Direction:    dir,
			AccountEmail: account,
		},
		AccountEmail: account,
		ScheduledAt:  time.Now(),
	}
}

func TestSaveListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fireAt := time.Now().Add(time.Hour).Truncate(time.Second)

	rec := record("w@x.com", "w@x.com", "p@y.com", model.WarmupToPool, fireAt)
	require.NoError(t, s.Save(ctx, rec))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec.Key(), all[0].Key())
	assert.Equal(t, "w@x.com", all[0].AccountEmail)
	assert.True(t, fireAt.Equal(all[0].FireAt))

	require.NoError(t, s.Delete(ctx, rec.Key()))
	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSaveIsIdempotentPerKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fireAt := time.Now().Add(time.Hour).Truncate(time.Second)

	rec := record("w@x.com", "w@x.com", "p@y.com", model.WarmupToPool, fireAt)
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Save(ctx, rec))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "same composite key must upsert, not duplicate")
}

func TestDeleteByAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fireAt := time.Now().Add(time.Hour)

	require.NoError(t, s.Save(ctx, record("w1@x.com", "w1@x.com", "p1@y.com", model.WarmupToPool, fireAt)))
	require.NoError(t, s.Save(ctx, record("w1@x.com", "p1@y.com", "w1@x.com", model.PoolToWarmup, fireAt.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, record("w2@x.com", "w2@x.com", "p1@y.com", model.WarmupToPool, fireAt)))

	n, err := s.CountByAccount(ctx, "w1@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deleted, err := s.DeleteByAccount(ctx, "w1@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := s.ListByAccount(ctx, "w1@x.com")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "w2@x.com", all[0].AccountEmail)
}
