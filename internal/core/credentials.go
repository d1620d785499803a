package core

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Credentials are request-scoped API key overrides. They live for one
// orchestration call and must never reach logs or storage.
type Credentials struct {
	// OpenAIAPIKey overrides the credential of the routed LLM provider.
	OpenAIAPIKey string `json:"-"`
	// TavilyAPIKey overrides the web-search provider key.
	TavilyAPIKey string `json:"-"`
}

// NewCredentials trims both keys; blank values count as absent.
func NewCredentials(openAIKey, tavilyKey string) Credentials {
	return Credentials{
		OpenAIAPIKey: strings.TrimSpace(openAIKey),
		TavilyAPIKey: strings.TrimSpace(tavilyKey),
	}
}

// HasLLMKey reports whether an LLM override is present.
func (c Credentials) HasLLMKey() bool { return c.OpenAIAPIKey != "" }

// HasSearchKey reports whether a search override is present.
func (c Credentials) HasSearchKey() bool { return c.TavilyAPIKey != "" }

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{llm_override:%t search_override:%t}", c.HasLLMKey(), c.HasSearchKey())
}

// GoString keeps %#v from printing keys.
func (c Credentials) GoString() string { return c.String() }

// MarshalLogObject exposes presence only.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("llm_override", c.HasLLMKey())
	enc.AddBool("search_override", c.HasSearchKey())
	return nil
}

// Logger is the logging surface the core needs. Both *zap.Logger and the
// gofulmen logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return zap.NewNop() }
