package ailink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/schema"

	"github.com/tripbundle/tripbundle/internal/ailink/content"
	"github.com/tripbundle/tripbundle/internal/ailink/driver"
	"github.com/tripbundle/tripbundle/internal/ailink/prompt"
)

const (
	defaultTimeout = 60 * time.Second
	maxTimeout     = 5 * time.Minute
)

// Service coordinates prompt loading, provider selection, and driver execution.
type Service struct {
	Providers *Registry
	Registry  prompt.Registry
}

// CompleteJSON renders the prompt, runs it on the routed provider and
// validates the reply. Output problems come back as *RawResponseError
// wrapping ErrMalformedResponse so the caller can ask for a repair.
func (s *Service) CompleteJSON(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if s == nil || s.Providers == nil {
		return nil, errors.New("ailink provider registry not configured")
	}
	if s.Registry == nil {
		return nil, errors.New("ailink prompt registry not configured")
	}

	slug := strings.TrimSpace(req.PromptSlug)
	if slug == "" {
		return nil, errors.New("prompt slug is required")
	}

	promptDef, err := s.Registry.Get(slug)
	if err != nil {
		return nil, err
	}

	for _, required := range promptDef.Config.Input.RequiredVariables {
		if val, ok := req.Variables[required]; !ok || strings.TrimSpace(val) == "" {
			return nil, fmt.Errorf("required variable %q not provided", required)
		}
	}

	messages, err := buildMessages(promptDef, req.Variables, req.Repair)
	if err != nil {
		return nil, err
	}

	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = slug
	}

	resolved, err := s.Providers.Resolve(role, promptDef, req.Model, req.APIKey)
	if err != nil {
		return nil, err
	}

	driverReq := &driver.Request{
		Model:          resolved.Model,
		Messages:       messages,
		ResponseFormat: &driver.ResponseFormat{Type: "json_object"},
		Temperature:    promptDef.Config.Temperature,
		MaxTokens:      promptDef.Config.MaxTokens,
		PromptSlug:     promptDef.Config.Slug,
	}

	duration := s.Providers.cfg.DefaultTimeout
	if duration <= 0 {
		duration = defaultTimeout
	}
	if req.Timeout > 0 {
		duration = req.Timeout
	}
	if duration > maxTimeout {
		duration = maxTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	resp, err := resolved.Driver.Complete(ctx, driverReq)
	if errors.Is(err, driver.ErrEmptyResponse) {
		return nil, &RawResponseError{Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if err != nil {
		return nil, err
	}

	raw := stripCodeFence(extractContent(resp))
	if strings.TrimSpace(raw) == "" {
		return nil, &RawResponseError{Err: fmt.Errorf("%w: empty response content", ErrMalformedResponse)}
	}
	if !json.Valid([]byte(raw)) {
		return nil, &RawResponseError{Err: fmt.Errorf("%w: response is not valid JSON", ErrMalformedResponse), Raw: json.RawMessage(raw)}
	}
	if err := validateResponse(promptDef, []byte(raw)); err != nil {
		return nil, &RawResponseError{Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err), Raw: json.RawMessage(raw)}
	}

	return &CompletionResponse{
		Raw:        json.RawMessage(raw),
		ProviderID: resolved.ProviderID,
		Model:      resolved.Model,
		Usage:      resp.Usage,
	}, nil
}

func buildMessages(def *prompt.Prompt, vars map[string]string, repair *Repair) ([]content.Message, error) {
	systemPrompt, userPrompt, err := renderPromptWithVars(def, vars)
	if err != nil {
		return nil, err
	}

	messages := []content.Message{
		content.Text(content.RoleSystem, systemPrompt),
		content.Text(content.RoleUser, userPrompt),
	}
	if repair == nil {
		return messages, nil
	}

	instruction := def.Config.RepairTemplate
	if strings.TrimSpace(instruction) == "" {
		instruction = "Your previous reply could not be used: {{problem}}\nReply with a single valid JSON object only."
	}
	instruction, err = renderTemplate(instruction, map[string]string{"problem": repair.Problem})
	if err != nil {
		return nil, fmt.Errorf("prompt %s repair template: %w", def.Config.Slug, err)
	}

	previous := repair.Previous
	if strings.TrimSpace(previous) == "" {
		previous = "(empty reply)"
	}
	return append(messages,
		content.Text(content.RoleAssistant, previous),
		content.Text(content.RoleUser, instruction),
	), nil
}

func renderPromptWithVars(def *prompt.Prompt, vars map[string]string) (string, string, error) {
	if def == nil {
		return "", "", errors.New("prompt is required")
	}
	userSrc := def.Config.UserTemplate
	if userSrc == "" {
		userSrc = "{{input}}"
	}
	system, err := renderTemplate(def.Config.SystemTemplate, vars)
	if err != nil {
		return "", "", fmt.Errorf("prompt %s system template: %w", def.Config.Slug, err)
	}
	user, err := renderTemplate(userSrc, vars)
	if err != nil {
		return "", "", fmt.Errorf("prompt %s user template: %w", def.Config.Slug, err)
	}
	if strings.TrimSpace(system) == "" {
		return "", "", errors.New("system prompt is required")
	}
	return system, user, nil
}

func extractContent(resp *driver.Response) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for i, block := range resp.Content {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

// stripCodeFence removes a single surrounding ``` fence, which some models
// add even in JSON mode.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return raw
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.Index(trimmed, "\n"); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func validateResponse(def *prompt.Prompt, payload []byte) error {
	if def == nil {
		return nil
	}
	if len(def.Config.ResponseSchema) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(def.Config.ResponseSchema)
	if err != nil {
		return fmt.Errorf("encode response schema: %w", err)
	}
	validator, err := schema.NewValidator(schemaBytes)
	if err != nil {
		return fmt.Errorf("compile response schema: %w", err)
	}
	diagnostics, err := validator.ValidateJSON(payload)
	if err != nil {
		return err
	}
	if len(diagnostics) > 0 {
		return fmt.Errorf("response schema validation failed: %s", diagnostics[0].Message)
	}
	return nil
}
