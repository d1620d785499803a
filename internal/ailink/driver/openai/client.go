package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tripbundle/tripbundle/internal/ailink/content"
	"github.com/tripbundle/tripbundle/internal/ailink/driver"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements the OpenAI driver on top of go-openai.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}

	return &Client{
		BaseURL: url,
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "openai"
}

// Capabilities describes supported features.
func (c *Client) Capabilities() driver.Capabilities {
	return driver.Capabilities{SupportsJSONMode: true}
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	payload, err := buildChatRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	cfg := goopenai.DefaultConfig(c.APIKey)
	cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	}

	resp, err := goopenai.NewClientWithConfig(cfg).CreateChatCompletion(ctx, payload)
	if err != nil {
		return nil, toProviderError(err)
	}

	return toDriverResponse(resp)
}

func buildChatRequest(req *driver.Request) (goopenai.ChatCompletionRequest, error) {
	if req == nil {
		return goopenai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return goopenai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return goopenai.ChatCompletionRequest{}, fmt.Errorf("messages are required")
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			if block.Type != content.ContentTypeText && block.Type != content.ContentTypeJSON {
				return goopenai.ChatCompletionRequest{}, fmt.Errorf("unsupported content type: %s", block.Type)
			}
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.JoinText()})
	}

	payload := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		payload.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		payload.MaxTokens = *req.MaxTokens
	}
	if req.WantsJSON() {
		payload.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return payload, nil
}

func toDriverResponse(resp goopenai.ChatCompletionResponse) (*driver.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", driver.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &driver.Response{
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: choice.Message.Content}},
		FinishReason: string(choice.FinishReason),
		Usage: &driver.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// toProviderError lifts go-openai status errors into driver.ProviderError so
// callers can classify them without importing the SDK. Transport errors are
// returned unchanged.
func toProviderError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &driver.ProviderError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &driver.ProviderError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return fmt.Errorf("request failed: %w", err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
