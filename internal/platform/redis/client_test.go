package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idresolve/internal/platform/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url disables redis", func(t *testing.T) {
		client, err := New(ctx, config.RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("bad url is rejected", func(t *testing.T) {
		_, err := New(ctx, config.RedisConfig{URL: "not-a-url"})
		assert.Error(t, err)
	})

	t.Run("connects to a reachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := New(ctx, config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 2})
		require.NoError(t, err)
		require.NotNil(t, client)
		defer client.Close()

		assert.NoError(t, client.Ping(ctx).Err())
	})

	t.Run("unreachable server fails the startup ping", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()
		_, err = New(ctx, config.RedisConfig{URL: "redis://" + addr, DialTimeout: 100 * time.Millisecond})
		assert.Error(t, err)
	})
}
