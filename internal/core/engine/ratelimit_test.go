package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tripbundle/tripbundle/internal/core"
)

type memoryRateStore struct {
	state map[string]*core.RateLimitState
}

func (m *memoryRateStore) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	if m.state == nil {
		return nil, nil
	}
	if val, ok := m.state[endpoint]; ok {
		copied := *val
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryRateStore) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	if m.state == nil {
		m.state = make(map[string]*core.RateLimitState)
	}
	m.state[endpoint] = state
	return nil
}

func TestRateLimiterWindow(t *testing.T) {
	store := &memoryRateStore{}
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: store,
		Limits: map[string]RateLimit{
			"api.tavily.com": {RequestsPerWindow: 1, WindowDuration: time.Minute},
		},
		Clock: func() time.Time { return clock },
	}

	allowed, _, err := limiter.Allow(context.Background(), "api.tavily.com")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, limiter.Record(context.Background(), "api.tavily.com"))

	allowed, wait, err := limiter.Allow(context.Background(), "api.tavily.com")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, time.Minute, wait)

	clock = clock.Add(2 * time.Minute)
	allowed, _, err = limiter.Allow(context.Background(), "api.tavily.com")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, limiter.Record(context.Background(), "api.tavily.com"))
	require.Equal(t, 1, store.state["api.tavily.com"].RequestCount)
	require.Equal(t, clock, store.state["api.tavily.com"].WindowStart)
}

func TestRateLimiterBackoff(t *testing.T) {
	store := &memoryRateStore{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: store,
		Clock: func() time.Time { return now },
	}

	require.NoError(t, limiter.Record429(context.Background(), "api.openai.com", 30*time.Second))

	allowed, wait, err := limiter.Allow(context.Background(), "api.openai.com")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 30*time.Second, wait)
}

func TestRateLimiterBackoffDefaultsToWindow(t *testing.T) {
	store := &memoryRateStore{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{Store: store, Clock: func() time.Time { return now }}

	require.NoError(t, limiter.Record429(context.Background(), "api.tavily.com", 0))
	_, wait, err := limiter.Allow(context.Background(), "api.tavily.com")
	require.NoError(t, err)
	require.Equal(t, time.Minute, wait)
}

func TestRateLimiterMargin(t *testing.T) {
	store := &memoryRateStore{}
	limiter := &RateLimiter{
		Store: store,
		Limits: map[string]RateLimit{
			"api.tavily.com": {RequestsPerWindow: 10, WindowDuration: time.Minute},
		},
		Clock: func() time.Time { return time.Now().UTC() },
	}

	limiter.ApplySafetyMargin(0.9)
	require.Equal(t, 9, limiter.LimitFor("api.tavily.com").RequestsPerWindow)
}

func TestRateLimiterOverrides(t *testing.T) {
	limiter := &RateLimiter{}
	limiter.ApplyOverrides(map[string]int{" API.Tavily.com ": 5, "": 3, "bad": 0})

	require.Equal(t, 5, limiter.LimitFor("api.tavily.com").RequestsPerWindow)
	require.Equal(t, DefaultLimits["api.openai.com"], limiter.LimitFor("api.openai.com"))
	require.Equal(t, []string{"api.openai.com", "api.tavily.com", "generativelanguage.googleapis.com"}, limiter.Endpoints())
}

func TestNilRateLimiterAllows(t *testing.T) {
	var limiter *RateLimiter
	allowed, _, err := limiter.Allow(context.Background(), "api.tavily.com")
	require.NoError(t, err)
	require.True(t, allowed)
	require.NoError(t, limiter.Record(context.Background(), "api.tavily.com"))
}
