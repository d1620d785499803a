// Package intake turns a raw planning call (JSON body, YAML file or form
// mapping) into a validated TripRequest plus request-scoped credentials.
package intake

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/tripbundle/tripbundle/internal/core"
)

//go:embed schemas/trip-request.schema.json
var tripRequestSchema []byte

// DefaultCurrency applies when a request names none.
const DefaultCurrency = "USD"

// Format selects the wire format of a submission.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Submission is a decoded planning call. Credentials never appear in Request.
type Submission struct {
	Request     core.TripRequest
	Credentials core.Credentials
}

// ValidationError lists schema violations. It unwraps to core.ErrInvalidRequest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", core.ErrInvalidRequest, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return core.ErrInvalidRequest }

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tripRequestSchema))
	})
	return schema, schemaErr
}

// Decode parses data in the given format and hands it to FromMap.
func Decode(data []byte, format Format) (*Submission, error) {
	raw := map[string]any{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ValidationError{Problems: []string{"body is not valid YAML: " + err.Error()}}
		}
	case FormatJSON, "":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &ValidationError{Problems: []string{"body is not a JSON object: " + err.Error()}}
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return FromMap(raw)
}

// FromMap normalizes field aliases, strips credentials, applies boundary
// defaults and validates the mapping before decoding it.
func FromMap(raw map[string]any) (*Submission, error) {
	doc := normalizeKeys(raw)
	creds := core.NewCredentials(stringField(doc, "openai_api_key"), stringField(doc, "tavily_api_key"))
	delete(doc, "openai_api_key")
	delete(doc, "tavily_api_key")

	applyDefaults(doc)

	compiled, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile trip request schema: %w", err)
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
		sort.Strings(problems)
		return nil, &ValidationError{Problems: problems}
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode trip request: %w", err)
	}
	var req core.TripRequest
	if err := json.Unmarshal(encoded, &req); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return &Submission{Request: req, Credentials: creds}, nil
}

// InferPurpose derives a purpose from the ranking objective.
func InferPurpose(objective string) string {
	switch strings.ToLower(strings.TrimSpace(objective)) {
	case "family_friendly":
		return "family vacation"
	case "comfort":
		return "premium leisure escape"
	case "cheapest":
		return "budget getaway"
	default:
		return core.DefaultPurpose
	}
}

func applyDefaults(doc map[string]any) {
	if strings.TrimSpace(stringField(doc, "purpose")) == "" {
		objective := ""
		if prefs, ok := doc["prefs"].(map[string]any); ok {
			objective = stringField(prefs, "objective")
		}
		doc["purpose"] = InferPurpose(objective)
	}
	if strings.TrimSpace(stringField(doc, "currency")) == "" {
		doc["currency"] = DefaultCurrency
	}
	if _, ok := doc["constraints"]; !ok || doc["constraints"] == nil {
		doc["constraints"] = map[string]any{}
	}
	if _, ok := doc["interests"]; !ok || doc["interests"] == nil {
		doc["interests"] = []any{}
	}
	if constraints, ok := doc["constraints"].(map[string]any); ok {
		for key, value := range constraints {
			switch v := value.(type) {
			case bool:
				constraints[key] = strconv.FormatBool(v)
			case float64:
				constraints[key] = strconv.FormatFloat(v, 'f', -1, 64)
			case int:
				constraints[key] = strconv.Itoa(v)
			}
		}
	}
}

func stringField(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return strings.TrimSpace(value)
}
