package dedup

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard is a windowed guard backed by Redis, for deployments running
// more than one webhook replica behind a load balancer. SETNX with a TTL
// gives the same first-sighting-wins semantics as MemoryGuard, shared
// across processes.
//
// On a Redis error the guard fails open (returns not-seen): a duplicate run
// is preferable to dropping a legitimate trigger while Redis is down.
type RedisGuard struct {
	client  *redis.Client
	window  time.Duration
	prefix  string
	timeout time.Duration
}

// NewRedisGuard creates a Redis-backed guard. A zero window falls back to
// DefaultWindow.
func NewRedisGuard(client *redis.Client, window time.Duration) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGuard{
		client:  client,
		window:  window,
		prefix:  "foreman:dedup:",
		timeout: 2 * time.Second,
	}
}

// Seen implements Guard.
func (g *RedisGuard) Seen(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	set, err := g.client.SetNX(ctx, g.prefix+key, 1, g.window).Result()
	if err != nil {
		log.Printf("[Dedup] redis error for key %s, failing open: %v", key, err)
		return false
	}
	// SETNX succeeded means this is the first sighting.
	return !set
}
