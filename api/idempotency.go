package api

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers Idempotency-Keys per user and mutation target, so a
// retried status or checklist write is answered without being applied twice
// by any instance.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// redisKey is idem:<user>:status:<task>:<key> for status updates and
// idem:<user>:checklist:<task>:<item>:<key> for checklist items. A key reused
// against another task is a different request.
func (r *RedisDeduper) redisKey(s IdempotencyScope) string {
	parts := []string{"idem", s.UserID}
	if s.ItemID == "" {
		parts = append(parts, "status", s.TaskID)
	} else {
		parts = append(parts, "checklist", s.TaskID, s.ItemID)
	}
	return strings.Join(append(parts, s.Key), ":")
}

func (r *RedisDeduper) Claim(ctx context.Context, s IdempotencyScope) (bool, error) {
	return r.client.SetNX(ctx, r.redisKey(s), time.Now().UnixMilli(), r.ttl).Result()
}

func (r *RedisDeduper) Release(ctx context.Context, s IdempotencyScope) error {
	return r.client.Del(ctx, r.redisKey(s)).Err()
}
