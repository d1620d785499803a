package handlers

import (
	"context"
	"fmt"

	"github.com/tripbundle/tripbundle/internal/core"
	"github.com/tripbundle/tripbundle/internal/core/store"
)

// RateStoreCheck fails when the rate-limit store cannot be read.
func RateStoreCheck(rates store.RateStore) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if rates == nil {
			return fmt.Errorf("%w: no rate-limit store", ErrDegraded)
		}
		if _, err := rates.ListRateLimits(ctx, store.RateLimitQuery{All: true}); err != nil {
			return fmt.Errorf("%s store: %w", rates.Driver(), err)
		}
		return nil
	})
}

// LLMCredentialCheck is degraded when no LLM provider can be routed with the
// configured credentials alone. Requests that carry their own key still work.
func LLMCredentialCheck(checker interface {
	CheckLLM(creds core.Credentials) error
}) HealthChecker {
	return CheckerFunc(func(context.Context) error {
		if checker == nil {
			return fmt.Errorf("%w: no llm checker", ErrDegraded)
		}
		if err := checker.CheckLLM(core.Credentials{}); err != nil {
			return fmt.Errorf("%w: %v", ErrDegraded, err)
		}
		return nil
	})
}

// SearchKeyCheck is degraded when no server-side search key is configured.
func SearchKeyCheck(configured bool) HealthChecker {
	return CheckerFunc(func(context.Context) error {
		if !configured {
			return fmt.Errorf("%w: search key not configured", ErrDegraded)
		}
		return nil
	})
}
