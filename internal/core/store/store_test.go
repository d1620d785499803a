package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/config"
	"github.com/tripbundle/tripbundle/internal/core"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLGetsAuthToken", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{URL: "libsql://trips.turso.io", AuthToken: "tok"})
		require.NoError(t, err)
		require.Equal(t, "libsql://trips.turso.io?authToken=tok", dsn)
	})

	t.Run("URLKeepsExistingToken", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{URL: "libsql://trips.turso.io?authToken=a", AuthToken: "b"})
		require.NoError(t, err)
		require.Equal(t, "libsql://trips.turso.io?authToken=a", dsn)
	})

	t.Run("FilePrefixedPath", func(t *testing.T) {
		dir := t.TempDir()
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: "file:" + dir + "/state/tripbundle.db"})
		require.NoError(t, err)
		require.Equal(t, "file:"+dir+"/state/tripbundle.db", dsn)
		require.DirExists(t, dir+"/state")
	})

	t.Run("BarePath", func(t *testing.T) {
		dir := t.TempDir()
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: dir + "/tripbundle.db"})
		require.NoError(t, err)
		require.Equal(t, "file:"+dir+"/tripbundle.db", dsn)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})

	t.Run("Memory", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestRateLimitQuery(t *testing.T) {
	require.Error(t, RateLimitQuery{}.Validate())
	require.NoError(t, RateLimitQuery{Prefix: "api."}.Validate())

	require.True(t, RateLimitQuery{All: true}.Matches("anything"))
	require.True(t, RateLimitQuery{Endpoint: "API.Tavily.com"}.Matches("api.tavily.com"))
	require.False(t, RateLimitQuery{Endpoint: "api.tavily.com"}.Matches("api.openai.com"))
	require.True(t, RateLimitQuery{Prefix: "api."}.Matches("api.openai.com"))
	require.False(t, RateLimitQuery{Prefix: "api."}.Matches("generativelanguage.googleapis.com"))
}

func TestOpenRateStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenRateStore(ctx, config.StoreConfig{})
	require.NoError(t, err)
	require.Equal(t, DriverMemory, s.Driver())
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = OpenRateStore(ctx, config.StoreConfig{Driver: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.Equal(t, DriverRedis, s.Driver())
	require.NoError(t, s.Close())

	_, err = OpenRateStore(ctx, config.StoreConfig{Driver: "redis"})
	require.ErrorContains(t, err, "redis_addr")

	_, err = OpenRateStore(ctx, config.StoreConfig{Driver: "postgres"})
	require.ErrorContains(t, err, "unsupported store driver")
}

// exerciseRateStore checks the behaviour every driver shares.
func exerciseRateStore(t *testing.T, s RateStore) {
	t.Helper()
	ctx := context.Background()

	got, err := s.GetRateLimit(ctx, "api.tavily.com")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = s.GetRateLimit(ctx, "  ")
	require.Error(t, err)
	require.Error(t, s.UpdateRateLimit(ctx, "api.tavily.com", nil))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backoff := start.Add(30 * time.Second)
	require.NoError(t, s.UpdateRateLimit(ctx, "API.Tavily.com", &core.RateLimitState{
		RequestCount: 3,
		WindowStart:  start,
		BackoffUntil: &backoff,
		Last429At:    &start,
	}))
	require.NoError(t, s.UpdateRateLimit(ctx, "api.openai.com", &core.RateLimitState{RequestCount: 1, WindowStart: start}))
	require.NoError(t, s.UpdateRateLimit(ctx, "generativelanguage.googleapis.com", &core.RateLimitState{RequestCount: 2, WindowStart: start}))

	got, err = s.GetRateLimit(ctx, "api.tavily.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 3, got.RequestCount)
	require.True(t, start.Equal(got.WindowStart))
	require.NotNil(t, got.BackoffUntil)
	require.True(t, backoff.Equal(*got.BackoffUntil))

	entries, err := s.ListRateLimits(ctx, RateLimitQuery{Prefix: "api."})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "api.openai.com", entries[0].Endpoint)
	require.Equal(t, "api.tavily.com", entries[1].Endpoint)

	_, err = s.ListRateLimits(ctx, RateLimitQuery{})
	require.Error(t, err)

	removed, err := s.ResetRateLimits(ctx, RateLimitQuery{Endpoint: "api.tavily.com"})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	entries, err = s.ListRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	removed, err = s.ResetRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)
}

func TestMemoryRateStore(t *testing.T) {
	exerciseRateStore(t, NewMemoryRateStore(time.Hour))
}

func TestMemoryRateStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRateStore(0)
	until := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := &core.RateLimitState{RequestCount: 1, BackoffUntil: &until}
	require.NoError(t, s.UpdateRateLimit(ctx, "api.openai.com", state))

	state.RequestCount = 99
	got, err := s.GetRateLimit(ctx, "api.openai.com")
	require.NoError(t, err)
	require.Equal(t, 1, got.RequestCount)

	got.BackoffUntil = nil
	again, err := s.GetRateLimit(ctx, "api.openai.com")
	require.NoError(t, err)
	require.NotNil(t, again.BackoffUntil)
}

func TestRedisRateStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedisRateStore(context.Background(), config.StoreConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseRateStore(t, s)
}

func TestRedisRateStoreExpiresIdleWindows(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedisRateStore(context.Background(), config.StoreConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.TTL = time.Minute

	ctx := context.Background()
	require.NoError(t, s.UpdateRateLimit(ctx, "api.tavily.com", &core.RateLimitState{RequestCount: 1}))
	require.True(t, mr.Exists(redisKeyPrefix+"api.tavily.com"))

	mr.FastForward(2 * time.Minute)
	got, err := s.GetRateLimit(ctx, "api.tavily.com")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisRateStoreRejectsCorruptState(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedisRateStore(context.Background(), config.StoreConfig{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, mr.Set(redisKeyPrefix+"api.openai.com", "{not json"))
	_, err = s.GetRateLimit(context.Background(), "api.openai.com")
	require.ErrorContains(t, err, "decode rate limit")
}
