package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flowrelay/pkg/config"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = 10 * time.Minute
	redisKeyPrefix   = "flowrelay:update:"
	pruneEveryWrites = 256
)

// Deduplicator remembers update keys for a while so redelivered updates can be dropped.
type Deduplicator interface {
	// FirstSeen records key and reports whether it was unseen within the ttl.
	FirstSeen(ctx context.Context, key string) (bool, error)
	Close() error
}

// New builds the deduplicator selected by cfg.Kind. Memory is the default.
func New(cfg config.DedupConfig) (Deduplicator, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}

	switch strings.TrimSpace(cfg.Kind) {
	case "", config.DedupMemory:
		return NewMemory(ttl), nil
	case config.DedupRedis:
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			return nil, errors.New("dedup.redis_addr is required for redis dedup")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported dedup kind: %s", cfg.Kind)
	}
}

// Memory is a process-local deduplicator.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	seen   map[string]time.Time
	writes int
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (m *Memory) FirstSeen(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expires, ok := m.seen[key]; ok && now.Before(expires) {
		return false, nil
	}

	m.seen[key] = now.Add(m.ttl)
	m.writes++
	if m.writes%pruneEveryWrites == 0 {
		m.pruneLocked(now)
	}

	return true, nil
}

func (m *Memory) pruneLocked(now time.Time) {
	for key, expires := range m.seen {
		if !now.Before(expires) {
			delete(m.seen, key)
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]time.Time)
	return nil
}

type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// Redis shares seen update keys between gateway replicas.
type Redis struct {
	client redisAPI
	ttl    time.Duration
}

func NewRedis(client redisAPI, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) FirstSeen(ctx context.Context, key string) (bool, error) {
	stored, err := r.client.SetNX(ctx, redisKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record update key: %w", err)
	}
	return stored, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
