package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tripbundle/tripbundle/internal/core"
	apperrors "github.com/tripbundle/tripbundle/internal/errors"
	"github.com/tripbundle/tripbundle/internal/intake"
	"github.com/tripbundle/tripbundle/internal/observability"
)

// MaxPlanBodyBytes caps a planning request body.
const MaxPlanBodyBytes = 1 << 20

// Planner runs one orchestration. *engine.Orchestrator satisfies it.
type Planner interface {
	Orchestrate(ctx context.Context, req *core.TripRequest, allow, deny []string, creds core.Credentials) (*core.PlanResult, error)
}

// PlanHandler serves POST /api/plan and its /trip/llm_only alias.
type PlanHandler struct {
	Planner Planner
}

// NewPlanHandler creates a plan handler over planner.
func NewPlanHandler(planner Planner) *PlanHandler {
	return &PlanHandler{Planner: planner}
}

// ServeHTTP accepts JSON, YAML or form-encoded bodies. Validation failures
// return 422; request-fatal planning errors map onto their envelopes.
func (h *PlanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.Planner == nil {
		respondWithError(w, r, apperrors.NewInternalError("planner is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxPlanBodyBytes)
	sub, err := decodeSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, "request body is too large"))
			return
		}
		respondWithError(w, r, apperrors.FromPlanError(ctx, err))
		return
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Debug("Plan request decoded",
			zap.String("origin", sub.Request.Origin),
			zap.Int("destinations", len(sub.Request.Destinations)),
			zap.Object("credentials", sub.Credentials))
	}

	result, err := h.Planner.Orchestrate(ctx, &sub.Request, nil, nil, sub.Credentials)
	if err != nil {
		respondWithError(w, r, apperrors.FromPlanError(ctx, err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func decodeSubmission(r *http.Request) (*intake.Submission, error) {
	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, &intake.ValidationError{Problems: []string{"unreadable content type: " + ct}}
		}
		mediaType = parsed
	}

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := parseForm(r, mediaType); err != nil {
			return nil, err
		}
		return intake.FromMap(formToMap(r.PostForm))
	case "application/yaml", "application/x-yaml", "text/yaml":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return intake.Decode(body, intake.FormatYAML)
	case "application/json", "text/plain":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return intake.Decode(body, intake.FormatJSON)
	default:
		return nil, &intake.ValidationError{Problems: []string{fmt.Sprintf("unsupported content type %q", mediaType)}}
	}
}

func parseForm(r *http.Request, mediaType string) error {
	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(MaxPlanBodyBytes)
	} else {
		err = r.ParseForm()
	}
	var tooLarge *http.MaxBytesError
	if err != nil && !errors.As(err, &tooLarge) {
		return &intake.ValidationError{Problems: []string{"unreadable form body: " + err.Error()}}
	}
	return err
}

// formToMap keeps single values as strings so intake can split comma lists
// and coerce numbers; repeated fields become lists.
func formToMap(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		key = strings.TrimSpace(key)
		switch len(vals) {
		case 0:
		case 1:
			out[key] = vals[0]
		default:
			list := make([]any, 0, len(vals))
			for _, v := range vals {
				list = append(list, v)
			}
			out[key] = list
		}
	}
	return out
}
