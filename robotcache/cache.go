// Package robotcache keeps the full robot list in Redis so list requests
// from many observers do not each hit the database.
package robotcache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetwatch/store"
)

type LogFunc func(format string, args ...any)

const allRobotsKey = "fleetwatch:robots:all"

// Source is where the cache reads through to.
type Source interface {
	ListRobots() ([]*store.Robot, error)
}

// Cache is a read-through cache over Source. A nil Redis client, or any
// Redis error, degrades to reading the source directly.
type Cache struct {
	client *redis.Client
	src    Source
	ttl    time.Duration
	logFn  LogFunc

	// OnLookup, when set, observes every List call.
	OnLookup func(hit bool)
}

func New(client *redis.Client, src Source, ttl time.Duration, logFn LogFunc) *Cache {
	if logFn == nil {
		logFn = log.Printf
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Cache{client: client, src: src, ttl: ttl, logFn: logFn}
}

func (c *Cache) List(ctx context.Context) ([]*store.Robot, error) {
	if c.client != nil {
		data, err := c.client.Get(ctx, allRobotsKey).Bytes()
		switch {
		case err == nil:
			var robots []*store.Robot
			if err := json.Unmarshal(data, &robots); err == nil {
				c.observe(true)
				return robots, nil
			}
			c.logFn("robotcache: corrupt entry, reloading")
		case !errors.Is(err, redis.Nil):
			c.logFn("robotcache: get: %v", err)
		}
	}
	c.observe(false)

	robots, err := c.src.ListRobots()
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		if data, err := json.Marshal(robots); err == nil {
			if err := c.client.Set(ctx, allRobotsKey, data, c.ttl).Err(); err != nil {
				c.logFn("robotcache: set: %v", err)
			}
		}
	}
	return robots, nil
}

// Invalidate drops the cached list; the next List reloads it.
func (c *Cache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, allRobotsKey).Err(); err != nil {
		c.logFn("robotcache: invalidate: %v", err)
	}
}

func (c *Cache) observe(hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}
