// Package cache stores rendered attribution responses keyed by dataset fingerprint
// and engine configuration
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/config"
)

// ResultCache is a best-effort store: errors surface as misses
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) ([]byte, bool)
	Set(ctx context.Context, fingerprint string, val []byte)
}

type entry struct {
	b   []byte
	exp time.Time
}

// Memory is an in-process ResultCache with per-entry TTL
type Memory struct {
	mu  sync.Mutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

// NewMemory creates an in-process cache; ttl <= 0 keeps entries forever
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{m: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (c *Memory) Get(_ context.Context, fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[fingerprint]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		delete(c.m, fingerprint)
		return nil, false
	}
	return append([]byte(nil), e.b...), true
}

func (c *Memory) Set(_ context.Context, fingerprint string, val []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if c.ttl > 0 {
		e.exp = c.now().Add(c.ttl)
	}
	c.m[fingerprint] = e
}

// Redis stores entries under prefix+fingerprint with a TTL
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, timeout: 500 * time.Millisecond}
}

func (r *Redis) key(fingerprint string) string {
	return r.prefix + fingerprint
}

func (r *Redis) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Result cache read failed")
		}
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, fingerprint string, val []byte) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(fingerprint), val, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Result cache write failed")
	}
}

// New returns a Redis cache when an address is configured, else an in-process one
func New(cfg config.CacheConfig) ResultCache {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		log.Info().Str("addr", cfg.Redis.Addr).Int("db", cfg.Redis.DB).Msg("Using Redis result cache")
		return NewRedis(client, cfg.Redis.Prefix, cfg.Redis.TTL)
	}
	return NewMemory(cfg.Redis.TTL)
}
