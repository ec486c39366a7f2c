package redisclient

import (
	"github.com/redis/go-redis/v9"

	"mailwarm/internal/config"
)

// New builds the shared Redis client. The volume ledger, the job store and
// the scheduling markers all live on this one connection.
func New(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
