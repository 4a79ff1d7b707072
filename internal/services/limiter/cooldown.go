package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratewatch/ratewatch/internal/models"
)

// CooldownStore persists per-entity, per-metric cooldown end times. The
// cooldown is the only piece of limiting state that outlives a single
// evaluation, so it is the only piece worth making durable.
type CooldownStore interface {
	// Get returns the cooldown end time, or nil when no cooldown is active.
	Get(ctx context.Context, kind models.EntityKind, id uint, metric models.AlertMetric) (*time.Time, error)
	// Set records a cooldown ending at until.
	Set(ctx context.Context, kind models.EntityKind, id uint, metric models.AlertMetric, until time.Time) error
}

func cooldownKey(kind models.EntityKind, id uint, metric models.AlertMetric) string {
	return fmt.Sprintf("ratewatch:cooldown:%s:%d:%s", kind, id, metric)
}

// RedisCooldownStore keeps cooldowns in Redis so an active cooldown survives
// an engine restart. Keys expire on their own at the cooldown end.
type RedisCooldownStore struct {
	client *redis.Client
}

func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) Get(ctx context.Context, kind models.EntityKind, id uint, metric models.AlertMetric) (*time.Time, error) {
	val, err := s.client.Get(ctx, cooldownKey(kind, id, metric)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldown: %w", err)
	}
	until, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cooldown end time %q: %w", val, err)
	}
	return &until, nil
}

func (s *RedisCooldownStore) Set(ctx context.Context, kind models.EntityKind, id uint, metric models.AlertMetric, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, cooldownKey(kind, id, metric), until.Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cooldown: %w", err)
	}
	return nil
}

// MemoryCooldownStore is the fallback when Redis is not configured.
// Cooldowns reset on restart, which is the documented tradeoff.
type MemoryCooldownStore struct {
	mu        sync.Mutex
	cooldowns map[string]time.Time
	now       func() time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetNow overrides the store clock. Test hook.
func (s *MemoryCooldownStore) SetNow(now func() time.Time) {
	s.now = now
}

func (s *MemoryCooldownStore) Get(_ context.Context, kind models.EntityKind, id uint, metric models.AlertMetric) (*time.Time, error) {
	key := cooldownKey(kind, id, metric)

	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cooldowns[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(until) {
		delete(s.cooldowns, key)
		return nil, nil
	}
	return &until, nil
}

func (s *MemoryCooldownStore) Set(_ context.Context, kind models.EntityKind, id uint, metric models.AlertMetric, until time.Time) error {
	s.mu.Lock()
	s.cooldowns[cooldownKey(kind, id, metric)] = until
	s.mu.Unlock()
	return nil
}
