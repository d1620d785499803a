package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks a request that violates the trip contract.
	ErrInvalidRequest = errors.New("invalid trip request")
	// ErrSearchUnavailable is returned when the search provider cannot serve a query.
	ErrSearchUnavailable = errors.New("search provider unavailable")
	// ErrLLMAuth is returned when the LLM provider rejects the credentials.
	ErrLLMAuth = errors.New("llm provider authentication failed")
	// ErrLLMUnreachable is returned when the LLM provider cannot be contacted at all.
	ErrLLMUnreachable = errors.New("llm provider unreachable")
	// ErrMalformedOutput is returned when model output does not match the fragment shape.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrNoFragments signals that no destination produced even a fallback fragment.
	ErrNoFragments = errors.New("no itinerary fragments produced")
)

// FatalError is a request-fatal failure together with the state it was raised from.
type FatalError struct {
	State PlanState
	Err   error
}

func (e *FatalError) Error() string {
	if e == nil || e.Err == nil {
		return "orchestration failed"
	}
	return fmt.Sprintf("orchestration failed during %s: %v", e.State, e.Err)
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRequestFatal reports whether err must abort the whole orchestration.
func IsRequestFatal(err error) bool {
	return errors.Is(err, ErrLLMAuth) || errors.Is(err, ErrLLMUnreachable) || errors.Is(err, ErrInvalidRequest)
}
