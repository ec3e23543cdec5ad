//go:build integration

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/pkg/health"
)

func TestOpenCarts_MongoOutlivesContext(t *testing.T) {
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	cfg := &Config{
		Cart:  CartConfig{Store: "mongo"},
		Mongo: MongoConfig{URI: endpoint, Database: "streamshop"},
	}
	runCtx, stop := context.WithCancel(ctx)
	healthSvc := health.New()
	carts, closeCarts, err := openCarts(runCtx, zap.NewNop(), cfg, nil, nil, healthSvc)
	require.NoError(t, err)

	// Cancelling the run context starts the drain; requests still in flight
	// must keep working until the store is closed.
	stop()
	_, err = carts.Replace(ctx, "session_1", []cart.Item{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)
	c, err := carts.Get(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, []cart.Item{{ProductID: "p1", Quantity: 1}}, c.Items)

	require.NoError(t, closeCarts(ctx))
	_, err = carts.Get(ctx, "session_1")
	assert.Error(t, err)
}
