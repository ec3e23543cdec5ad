package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/storage/postgres"
	rediscache "github.com/xenking/streamshop/internal/storage/redis"
	"github.com/xenking/streamshop/pkg/health"
)

func TestOpenCarts_Postgres(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Cart: CartConfig{Store: "postgres"}}

	carts, closeCarts, err := openCarts(ctx, zap.NewNop(), cfg, nil, nil, health.New())
	require.NoError(t, err)
	assert.IsType(t, &postgres.CartRepository{}, carts)
	require.NotNil(t, closeCarts)
	assert.NoError(t, closeCarts(ctx))
}

func TestOpenCarts_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &Config{
		Cart:  CartConfig{Store: "postgres"},
		Redis: RedisConfig{URL: "redis://" + mr.Addr(), CartTTL: time.Minute},
	}
	carts, closeCarts, err := openCarts(context.Background(), zap.NewNop(), cfg, nil, rdb, health.New())
	require.NoError(t, err)
	assert.IsType(t, &rediscache.CartCache{}, carts)
	assert.NoError(t, closeCarts(context.Background()))
}
