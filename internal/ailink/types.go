package ailink

import (
	"encoding/json"
	"time"

	"github.com/tripbundle/tripbundle/internal/ailink/driver"
)

// CompletionRequest asks for a schema-checked JSON completion of a prompt.
type CompletionRequest struct {
	Role       string
	PromptSlug string
	Variables  map[string]string
	Model      string
	Timeout    time.Duration

	// APIKey is a request-scoped credential override. It is only handed to
	// a driver built for this call.
	APIKey string

	// Repair replays a rejected reply and asks the model to correct it.
	Repair *Repair
}

// Repair carries the previous reply and what was wrong with it.
type Repair struct {
	Previous string
	Problem  string
}

// CompletionResponse is a validated JSON completion.
type CompletionResponse struct {
	Raw        json.RawMessage
	ProviderID string
	Model      string
	Usage      *driver.Usage
}
