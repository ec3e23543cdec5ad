// Package redis caches carts in Redis in front of a durable cart.Repository.
package redis

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/streamshop/internal/domain/cart"
)

const keyPrefix = "streamshop:cart:"

// Options tune the cache.
type Options struct {
	// TTL is the base lifetime of a cached cart. Defaults to 15 minutes.
	TTL time.Duration
	// Jitter is the upper bound of a random extension added to TTL so that
	// entries written together do not expire together. Defaults to TTL / 5.
	Jitter time.Duration
	Logger *zap.Logger
}

type entry struct {
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId,omitempty"`
	Items     []cart.Item `json:"items"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

var _ cart.Repository = (*CartCache)(nil)

// CartCache is a read-through, write-through cart.Repository. Concurrent
// misses for one session share a single backend read. Redis failures are
// logged and fall back to the backend.
type CartCache struct {
	next   cart.Repository
	rdb    redis.UniversalClient
	group  singleflight.Group
	ttl    time.Duration
	jitter time.Duration
	lg     *zap.Logger
}

// NewCartCache wraps next with a Redis cache.
func NewCartCache(next cart.Repository, rdb redis.UniversalClient, opts Options) *CartCache {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Jitter <= 0 {
		opts.Jitter = opts.TTL / 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CartCache{
		next:   next,
		rdb:    rdb,
		ttl:    opts.TTL,
		jitter: opts.Jitter,
		lg:     opts.Logger.Named("cart.cache"),
	}
}

// Get serves the cart from Redis, loading it from the backend on a miss.
func (c *CartCache) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	key := keyPrefix + sessionID

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil {
			return e.cart(), nil
		}
		c.lg.Warn("Dropping undecodable cache entry", zap.String("session_id", sessionID))
		c.rdb.Del(ctx, key)
	case errors.Is(err, redis.Nil):
	default:
		c.lg.Warn("Cache read failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		loaded, err := c.next.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return clone(v.(*cart.Cart)), nil
}

// Replace writes to the backend first, then refreshes the cache entry.
func (c *CartCache) Replace(ctx context.Context, sessionID string, items []cart.Item) (*cart.Cart, error) {
	updated, err := c.next.Replace(ctx, sessionID, items)
	if err != nil {
		return nil, err
	}
	c.store(ctx, updated)
	return updated, nil
}

// store writes the cart to Redis. On failure the stale entry is removed so
// that the next read goes to the backend.
func (c *CartCache) store(ctx context.Context, crt *cart.Cart) {
	key := keyPrefix + crt.SessionID
	raw, err := json.Marshal(entry{
		SessionID: crt.SessionID,
		UserID:    crt.UserID,
		Items:     crt.Items,
		UpdatedAt: crt.UpdatedAt,
	})
	if err == nil {
		err = c.rdb.Set(ctx, key, raw, c.expiry()).Err()
	}
	if err != nil {
		c.lg.Warn("Cache write failed", zap.String("session_id", crt.SessionID), zap.Error(err))
		c.rdb.Del(context.WithoutCancel(ctx), key)
	}
}

func (c *CartCache) expiry() time.Duration {
	return c.ttl + rand.N(c.jitter)
}

func (e entry) cart() *cart.Cart {
	items := e.Items
	if items == nil {
		items = []cart.Item{}
	}
	return &cart.Cart{SessionID: e.SessionID, UserID: e.UserID, Items: items, UpdatedAt: e.UpdatedAt}
}

func clone(c *cart.Cart) *cart.Cart {
	out := *c
	out.Items = slices.Clone(c.Items)
	if out.Items == nil {
		out.Items = []cart.Item{}
	}
	return &out
}
