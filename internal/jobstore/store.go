package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailwarm/internal/model"
)

const keyPrefix = "warmup:job:"

// Store persists scheduled-but-not-yet-fired jobs in Redis so a process
// restart can recover them. Keys are deterministic composites of
// (fire time, sender, receiver, direction); re-persisting the same job is
// an idempotent upsert.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func fullKey(k string) string {
	return keyPrefix + k
}

// Save upserts one record. Records carry their own TTL of fire time plus a
// day, so an abandoned record cannot outlive the staleness window forever.
func (s *Store) Save(ctx context.Context, rec *model.PersistedJobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	ttl := time.Until(rec.FireAt) + 24*time.Hour
	if ttl < time.Minute {
		// long-past fire times still get a brief window so recovery can
		// observe and reap them instead of Redis rejecting the expiry
		ttl = time.Minute
	}
	if err := s.rdb.Set(ctx, fullKey(rec.Key()), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist job record: %w", err)
	}
	return nil
}

// Delete removes one record by key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, fullKey(key)).Err()
}

// ListAll returns every persisted record, scanning by prefix.
func (s *Store) ListAll(ctx context.Context) ([]*model.PersistedJobRecord, error) {
	var records []*model.PersistedJobRecord

	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read job record: %w", err)
		}

		var rec model.PersistedJobRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("Dropping undecodable job record",
				zap.String("key", iter.Val()),
				zap.Error(err),
			)
			s.rdb.Del(ctx, iter.Val())
			continue
		}
		records = append(records, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan job records: %w", err)
	}

	return records, nil
}

// ListByAccount returns the records owned by one warmup account.
func (s *Store) ListByAccount(ctx context.Context, email string) ([]*model.PersistedJobRecord, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var records []*model.PersistedJobRecord
	for _, rec := range all {
		if rec.AccountEmail == email {
			records = append(records, rec)
		}
	}
	return records, nil
}

// CountByAccount returns the persisted backlog size for one account.
func (s *Store) CountByAccount(ctx context.Context, email string) (int, error) {
	records, err := s.ListByAccount(ctx, email)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// DeleteByAccount removes every record owned by one account and returns
// how many were deleted.
func (s *Store) DeleteByAccount(ctx context.Context, email string) (int, error) {
	records, err := s.ListByAccount(ctx, email)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range records {
		if err := s.Delete(ctx, rec.Key()); err != nil {
			s.logger.Warn("Failed to delete job record",
				zap.String("key", rec.Key()),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}
	return deleted, nil
}
