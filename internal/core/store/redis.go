package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripbundle/tripbundle/internal/config"
	"github.com/tripbundle/tripbundle/internal/core"
)

const redisKeyPrefix = "tripbundle:ratelimit:"

// RedisRateStore shares rate-limit windows between processes. Each endpoint
// is one JSON value with a TTL refreshed on every update.
type RedisRateStore struct {
	Client *redis.Client
	TTL    time.Duration
}

type redisState struct {
	RequestCount int        `json:"request_count"`
	WindowStart  time.Time  `json:"window_start"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	Last429At    *time.Time `json:"last_429_at,omitempty"`
}

// OpenRedisRateStore connects to cfg.RedisAddr and verifies the connection.
func OpenRedisRateStore(ctx context.Context, cfg config.StoreConfig) (*RedisRateStore, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("store.redis_addr is required for the redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return &RedisRateStore{Client: client, TTL: DefaultStateTTL}, nil
}

func (r *RedisRateStore) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	endpoint, err := endpointKey(endpoint)
	if err != nil {
		return nil, err
	}
	raw, err := r.Client.Get(ctx, redisKeyPrefix+endpoint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	state, err := decodeRedisState(raw)
	if err != nil {
		return nil, fmt.Errorf("decode rate limit %s: %w", endpoint, err)
	}
	return &state, nil
}

func (r *RedisRateStore) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	endpoint, err := endpointKey(endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		return errRequiredState
	}
	raw, err := json.Marshal(redisState{
		RequestCount: state.RequestCount,
		WindowStart:  state.WindowStart.UTC(),
		BackoffUntil: state.BackoffUntil,
		Last429At:    state.Last429At,
	})
	if err != nil {
		return fmt.Errorf("encode rate limit: %w", err)
	}
	if err := r.Client.Set(ctx, redisKeyPrefix+endpoint, raw, r.ttl()).Err(); err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}
	return nil
}

func (r *RedisRateStore) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	keys, err := r.matchingKeys(ctx, q)
	if err != nil {
		return nil, err
	}
	entries := make([]RateLimitEntry, 0, len(keys))
	for _, key := range keys {
		raw, err := r.Client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list rate limits: %w", err)
		}
		state, err := decodeRedisState(raw)
		if err != nil {
			return nil, fmt.Errorf("decode rate limit %s: %w", key, err)
		}
		entries = append(entries, RateLimitEntry{Endpoint: strings.TrimPrefix(key, redisKeyPrefix), State: state})
	}
	sortEntries(entries)
	return entries, nil
}

func (r *RedisRateStore) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	keys, err := r.matchingKeys(ctx, q)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	removed, err := r.Client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return removed, nil
}

func (r *RedisRateStore) Driver() string { return DriverRedis }

func (r *RedisRateStore) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *RedisRateStore) matchingKeys(ctx context.Context, q RateLimitQuery) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var keys []string
	iter := r.Client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if q.Matches(strings.TrimPrefix(iter.Val(), redisKeyPrefix)) {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rate limits: %w", err)
	}
	return keys, nil
}

func (r *RedisRateStore) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultStateTTL
}

func decodeRedisState(raw []byte) (core.RateLimitState, error) {
	var s redisState
	if err := json.Unmarshal(raw, &s); err != nil {
		return core.RateLimitState{}, err
	}
	return core.RateLimitState{
		RequestCount: s.RequestCount,
		WindowStart:  s.WindowStart.UTC(),
		BackoffUntil: s.BackoffUntil,
		Last429At:    s.Last429At,
	}, nil
}
