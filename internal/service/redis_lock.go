package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSubmissionLock is the per-user deposit lock. The TTL outlives the
// confirmation window so a crashed process cannot strand a user behind a
// lock forever.
type RedisSubmissionLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSubmissionLock(client *redis.Client, confirmTimeout time.Duration) *RedisSubmissionLock {
	return &RedisSubmissionLock{
		client: client,
		ttl:    confirmTimeout + 30*time.Second,
	}
}

func (l *RedisSubmissionLock) key(userID string) string {
	return fmt.Sprintf("deposit_lock:%s", userID)
}

func (l *RedisSubmissionLock) Acquire(ctx context.Context, userID string) (bool, error) {
	return l.client.SetNX(ctx, l.key(userID), "1", l.ttl).Result()
}

func (l *RedisSubmissionLock) Release(ctx context.Context, userID string) error {
	return l.client.Del(ctx, l.key(userID)).Err()
}
