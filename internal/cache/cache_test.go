package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, "test:"), mr
}

func TestGetSetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)

	// deleting again is fine
	require.NoError(t, c.Delete(ctx, "k"))
}

func TestSetHonorsTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "expiring", "v", 10*time.Second))
	mr.FastForward(11 * time.Second)

	_, err := c.Get(ctx, "expiring")
	require.ErrorIs(t, err, ErrMiss)
}

func TestSetIfAbsent(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetIfAbsent(ctx, "lock", "owner-a", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetIfAbsent(ctx, "lock", "owner-b", 30*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	val, err := c.Get(ctx, "lock")
	require.NoError(t, err)
	require.Equal(t, "owner-a", val)

	mr.FastForward(31 * time.Second)
	ok, err = c.SetIfAbsent(ctx, "lock", "owner-b", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIncrMonotonic(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := c.Incr(ctx, "cursor")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type session struct {
		Verifier string `json:"verifier"`
		Provider string `json:"provider"`
	}
	in := session{Verifier: "v123", Provider: "codex"}
	require.NoError(t, c.SetJSON(ctx, "sess", in, time.Minute))

	var out session
	require.NoError(t, c.GetJSON(ctx, "sess", &out))
	require.Equal(t, in, out)

	var miss session
	require.ErrorIs(t, c.GetJSON(ctx, "nope", &miss), ErrMiss)
}

func TestTokenBlacklist(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	black, err := c.IsTokenBlacklisted(ctx, "tok")
	require.NoError(t, err)
	require.False(t, black)

	require.NoError(t, c.BlacklistToken(ctx, "tok", time.Minute))
	black, err = c.IsTokenBlacklisted(ctx, "tok")
	require.NoError(t, err)
	require.True(t, black)

	mr.FastForward(2 * time.Minute)
	black, err = c.IsTokenBlacklisted(ctx, "tok")
	require.NoError(t, err)
	require.False(t, black)
}

func TestKeyBuilders(t *testing.T) {
	require.Equal(t, "pkce_state:abc", PKCEStateKey("abc"))
	require.Equal(t, "device_code:xyz", DeviceCodeKey("xyz"))
	require.Equal(t, "round_robin:7:gpt-5", RoundRobinKey(7, "gpt-5"))
	require.Equal(t, "models_cache:7:codex", ModelsKey(7, "codex"))
	require.Equal(t, "plugin_key:7", PluginKeyKey(7))
	require.Equal(t, "last_used_throttle:kiro:9", LastUsedThrottleKey("kiro", 9))
	require.Equal(t, "refresh_lock:codex:3", RefreshLockKey("codex", 3))
}
