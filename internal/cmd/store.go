package cmd

import (
	"context"

	"github.com/tripbundle/tripbundle/internal/core/engine"
	"github.com/tripbundle/tripbundle/internal/core/store"
)

// openRateStore opens the configured rate-limit store together with a
// limiter carrying the effective per-endpoint quotas.
func openRateStore(ctx context.Context) (store.RateStore, *engine.RateLimiter, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	rates, err := store.OpenRateStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	limiter := &engine.RateLimiter{Store: rates}
	limiter.ApplyOverrides(cfg.RateLimits)
	limiter.ApplySafetyMargin(cfg.RateLimitMargin)
	return rates, limiter, nil
}
