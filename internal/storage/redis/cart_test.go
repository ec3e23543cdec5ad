package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/streamshop/internal/domain/cart"
)

type countingRepo struct {
	mu     sync.Mutex
	carts  map[string][]cart.Item
	gets   atomic.Int32
	block  chan struct{}
	getErr error
}

func newCountingRepo() *countingRepo {
	return &countingRepo{carts: map[string][]cart.Item{}}
}

func (r *countingRepo) Get(_ context.Context, sid string) (*cart.Cart, error) {
	r.gets.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.getErr != nil {
		return nil, r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	items := append([]cart.Item{}, r.carts[sid]...)
	return &cart.Cart{SessionID: sid, Items: items, UpdatedAt: time.Unix(1700000000, 0).UTC()}, nil
}

func (r *countingRepo) Replace(_ context.Context, sid string, items []cart.Item) (*cart.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[sid] = append([]cart.Item{}, items...)
	return &cart.Cart{SessionID: sid, Items: items, UpdatedAt: time.Unix(1700000100, 0).UTC()}, nil
}

func setup(t *testing.T) (*CartCache, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newCountingRepo()
	return NewCartCache(repo, rdb, Options{TTL: time.Minute, Jitter: time.Second}), repo, mr
}

func TestCartCache_ReadThrough(t *testing.T) {
	c, repo, mr := setup(t)
	ctx := context.Background()
	repo.carts["s1"] = []cart.Item{{ProductID: "p1", Quantity: 2}}

	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []cart.Item{{ProductID: "p1", Quantity: 2}}, got.Items)
	assert.True(t, mr.Exists(keyPrefix+"s1"))

	ttl := mr.TTL(keyPrefix + "s1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+time.Second)

	got, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []cart.Item{{ProductID: "p1", Quantity: 2}}, got.Items)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.UpdatedAt)
	assert.EqualValues(t, 1, repo.gets.Load())

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.gets.Load())
}

func TestCartCache_WriteThrough(t *testing.T) {
	c, repo, _ := setup(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "s1")
	require.NoError(t, err)

	_, err = c.Replace(ctx, "s1", []cart.Item{{ProductID: "p2", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, []cart.Item{{ProductID: "p2", Quantity: 1}}, repo.carts["s1"])

	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []cart.Item{{ProductID: "p2", Quantity: 1}}, got.Items)
	assert.EqualValues(t, 1, repo.gets.Load())
}

func TestCartCache_CoalescesMisses(t *testing.T) {
	c, repo, _ := setup(t)
	repo.block = make(chan struct{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]*cart.Cart, n)
	for i := range n {
		wg.Go(func() {
			got, err := c.Get(context.Background(), "s1")
			assert.NoError(t, err)
			results[i] = got
		})
	}
	require.Eventually(t, func() bool { return repo.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.block)
	wg.Wait()

	assert.LessOrEqual(t, repo.gets.Load(), int32(2))
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "s1", r.SessionID)
	}
}

func TestCartCache_RedisDown(t *testing.T) {
	c, repo, mr := setup(t)
	repo.carts["s1"] = []cart.Item{{ProductID: "p1", Quantity: 1}}
	mr.Close()

	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = c.Replace(context.Background(), "s1", nil)
	require.NoError(t, err)
}

func TestCartCache_BackendError(t *testing.T) {
	c, repo, mr := setup(t)
	repo.getErr = errors.New("db down")

	_, err := c.Get(context.Background(), "s1")
	require.ErrorIs(t, err, repo.getErr)
	assert.False(t, mr.Exists(keyPrefix+"s1"))
}

func TestCartCache_CorruptEntry(t *testing.T) {
	c, repo, mr := setup(t)
	require.NoError(t, mr.Set(keyPrefix+"s1", "{broken"))
	repo.carts["s1"] = []cart.Item{{ProductID: "p1", Quantity: 3}}

	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Items[0].Quantity)
}
