// README: Refund due-time stores; Redis sorted set in production, a map otherwise.
package refund

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dueKey = "refunds:due"

type RedisDueStore struct {
	redis *redis.Client
}

func NewRedisDueStore(redis *redis.Client) *RedisDueStore {
	return &RedisDueStore{redis: redis}
}

func (s *RedisDueStore) Add(ctx context.Context, code string, at time.Time) error {
	return s.redis.ZAdd(ctx, dueKey, redis.Z{Score: float64(at.UnixMilli()), Member: code}).Err()
}

func (s *RedisDueStore) Remove(ctx context.Context, code string) error {
	return s.redis.ZRem(ctx, dueKey, code).Err()
}

func (s *RedisDueStore) List(ctx context.Context) ([]Due, error) {
	zs, err := s.redis.ZRangeWithScores(ctx, dueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Due, 0, len(zs))
	for _, z := range zs {
		code, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Due{Code: code, At: time.UnixMilli(int64(z.Score))})
	}
	return out, nil
}

type MemoryDueStore struct {
	mu  sync.Mutex
	due map[string]time.Time
}

func NewMemoryDueStore() *MemoryDueStore {
	return &MemoryDueStore{due: make(map[string]time.Time)}
}

func (s *MemoryDueStore) Add(_ context.Context, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.due[code] = at
	return nil
}

func (s *MemoryDueStore) Remove(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.due, code)
	return nil
}

func (s *MemoryDueStore) List(context.Context) ([]Due, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Due, 0, len(s.due))
	for code, at := range s.due {
		out = append(out, Due{Code: code, At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
