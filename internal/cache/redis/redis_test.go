package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// testClient connects to the Redis named by XARB_TEST_REDIS_ADDR and skips
// the test when it is unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("XARB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("XARB_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("xarb:*"))
	assert.True(t, hasPattern("xarb:venue:[ab]"))
	assert.False(t, hasPattern(domain.ChannelExecution))
}

func TestLockManager(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	key := "xarb:test:lock:" + uuid.NewString()
	ctx := context.Background()

	release, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()

	again, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c)
	key := "test:" + uuid.NewString()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "xarb:test:" + uuid.NewString()
	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, channel, []byte(`{"status":"filled"}`)))
	select {
	case got := <-ch:
		assert.JSONEq(t, `{"status":"filled"}`, string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}
