package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tripbundle/tripbundle/internal/core"
)

// DefaultStateTTL bounds how long an idle endpoint window is retained. It is
// longer than any provider window we track.
const DefaultStateTTL = 2 * time.Hour

// MemoryRateStore keeps rate-limit windows in process memory. State is lost
// on restart and is not shared between processes.
type MemoryRateStore struct {
	cache *gocache.Cache
}

// NewMemoryRateStore creates a memory store; ttl <= 0 selects DefaultStateTTL.
func NewMemoryRateStore(ttl time.Duration) *MemoryRateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryRateStore{cache: gocache.New(ttl, ttl/2)}
}

func (m *MemoryRateStore) GetRateLimit(_ context.Context, endpoint string) (*core.RateLimitState, error) {
	endpoint, err := endpointKey(endpoint)
	if err != nil {
		return nil, err
	}
	value, ok := m.cache.Get(endpoint)
	if !ok {
		return nil, nil
	}
	state := cloneState(value.(core.RateLimitState))
	return &state, nil
}

func (m *MemoryRateStore) UpdateRateLimit(_ context.Context, endpoint string, state *core.RateLimitState) error {
	endpoint, err := endpointKey(endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		return errRequiredState
	}
	m.cache.Set(endpoint, cloneState(*state), gocache.DefaultExpiration)
	return nil
}

func (m *MemoryRateStore) ListRateLimits(_ context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	entries := []RateLimitEntry{}
	for endpoint, item := range m.cache.Items() {
		if !q.Matches(endpoint) {
			continue
		}
		entries = append(entries, RateLimitEntry{Endpoint: endpoint, State: cloneState(item.Object.(core.RateLimitState))})
	}
	sortEntries(entries)
	return entries, nil
}

func (m *MemoryRateStore) ResetRateLimits(_ context.Context, q RateLimitQuery) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	var removed int64
	for endpoint := range m.cache.Items() {
		if q.Matches(endpoint) {
			m.cache.Delete(endpoint)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryRateStore) Driver() string { return DriverMemory }

func (m *MemoryRateStore) Close() error {
	m.cache.Flush()
	return nil
}

// cloneState detaches the pointer fields so callers cannot mutate stored state.
func cloneState(s core.RateLimitState) core.RateLimitState {
	if s.BackoffUntil != nil {
		t := *s.BackoffUntil
		s.BackoffUntil = &t
	}
	if s.Last429At != nil {
		t := *s.Last429At
		s.Last429At = &t
	}
	return s
}
