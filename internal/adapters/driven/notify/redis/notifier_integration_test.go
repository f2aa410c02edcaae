//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestNotifier_PublishSubscribe(t *testing.T) {
	addr := startRedis(t)

	publisher, err := New(Config{Addr: addr, Channel: "test:invalidate"})
	require.NoError(t, err)
	defer publisher.Close()
	subscriber, err := New(Config{Addr: addr, Channel: "test:invalidate"})
	require.NoError(t, err)
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals, err := subscriber.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "acme"))

	select {
	case id := <-signals:
		assert.Equal(t, "acme", id)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for invalidation")
	}

	cancel()
	select {
	case _, ok := <-signals:
		if ok {
			for range signals {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end after cancellation")
	}
}

func TestNotifier_Close(t *testing.T) {
	addr := startRedis(t)
	n, err := New(Config{Addr: addr})
	require.NoError(t, err)

	signals, err := n.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	select {
	case _, ok := <-signals:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end after close")
	}
	assert.ErrorIs(t, n.Publish(context.Background(), "acme"), domain.ErrNotifierClosed)
}
