// README: Redis-backed first-seen check used to drop duplicate notifications.
package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// FirstSeen reports whether key was not recorded before, recording it.
func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, "notify:sent:"+key, 1, d.ttl).Result()
}
