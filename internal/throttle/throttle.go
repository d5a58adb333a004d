// Package throttle guards automatic merge runs so that at most one run per
// institution starts within the cooldown window.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle grants a per-key lease. Acquire reports false while a previous
// lease for the same key is still live.
type Throttle interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

// Memory keeps leases in process memory; it is scoped to one instance.
type Memory struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewMemory builds an in-process throttle.
func NewMemory(cooldown time.Duration) *Memory {
	return &Memory{cooldown: cooldown, last: map[string]time.Time{}, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Acquire(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, ok := m.last[key]; ok && now.Sub(last) < m.cooldown {
		return false, nil
	}
	m.last[key] = now
	return true, nil
}

// Redis shares leases across instances with SET NX and an expiry.
type Redis struct {
	client   *redis.Client
	cooldown time.Duration
	prefix   string
}

// NewRedis builds a lease-based throttle.
func NewRedis(client *redis.Client, cooldown time.Duration) *Redis {
	return &Redis{client: client, cooldown: cooldown, prefix: "case-service:merge-lease:"}
}

func (r *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("redis throttle not configured")
	}
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339), r.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("acquire merge lease: %w", err)
	}
	return ok, nil
}
