package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/bugbusters/bugbuster/internal/composer"
	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/pipeline"
	"github.com/bugbusters/bugbuster/internal/render"
)

const maxRequestBodySize = 1 << 20 // 1MB

// uvRulesGuidance is returned until the UV rules service exists.
const uvRulesGuidance = "I understand you're asking about UV rules. " +
	"To help you better, please provide:\n" +
	"1. Policy Number\n" +
	"2. Rule Code (e.g., E101)\n\n" +
	"For example: 'Why is rule E101 triggered for policy 12345?'"

const uvRulesMissing = "Please provide a policy number and rule code (e.g., E101)."

// Pipeline is the query surface the HTTP and MCP layers need.
// pipeline.Pipeline satisfies it.
type Pipeline interface {
	Answer(ctx context.Context, sessionID, query string) (composer.Answer, error)
	Reload(ctx context.Context) error
	Ready() bool
	Records() []defect.Record
	Record(id string) (defect.Record, bool)
	Stats() pipeline.Stats
}

// Deps holds everything the public router serves from. Metrics and Admin
// are optional.
type Deps struct {
	Pipeline       Pipeline
	Sanitizer      render.Sanitizer
	Metrics        http.Handler
	AllowedOrigins []string
	Admin          *AdminDeps
}

type ChatRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id"`
}

type ChatMessage struct {
	Message     string `json:"message"`
	ContentType string `json:"content_type"`
}

type ChatResponse struct {
	Response       ChatMessage `json:"response"`
	ConversationID string      `json:"conversation_id"`
}

type uvRuleRequest struct {
	UserRequest string `json:"user_request"`
}

// defectSummary is one entry of GET /defects.
type defectSummary struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Owner   string `json:"owner"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
}

// NewHandler returns the service router: the chat endpoint the front-end
// calls, the health checks, and the admin API when deps.Admin is set.
func NewHandler(deps Deps) http.Handler {
	if deps.Sanitizer == nil {
		deps.Sanitizer = render.NewPolicy()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(deps.Pipeline))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	r.Get("/defects", handleListDefects(deps.Pipeline))
	r.Post("/defects/response", handleDefectsResponse(deps.Pipeline, deps.Sanitizer))
	r.Post("/proxy/uvrules", handleUVRules)

	if deps.Admin != nil {
		r.Mount("/admin", NewAdminHandler(*deps.Admin, deps.Pipeline))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReady(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := p.Stats()
		w.Header().Set("Content-Type", "application/json")
		if !st.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(st)
	}
}

func handleListDefects(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !p.Ready() {
			httpError(w, http.StatusServiceUnavailable, "not_ready", "%v", pipeline.ErrNotReady)
			return
		}
		recs := p.Records()
		out := make([]defectSummary, len(recs))
		for i, rec := range recs {
			out[i] = defectSummary{
				ID:      rec.ID,
				Summary: rec.SummaryOrDefault(),
				Owner:   rec.OwnerOrDefault(),
				Status:  rec.StatusOrDefault(),
				URL:     rec.URL,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleDefectsResponse(p Pipeline, sanitizer render.Sanitizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}
		if req.ConversationID == "" {
			req.ConversationID = uuid.New().String()
		}

		ans, err := p.Answer(r.Context(), req.ConversationID, req.Prompt)
		if err != nil {
			writeAnswerError(w, err)
			return
		}

		msg := ans.Message
		if ans.ContentType == composer.ContentHTML {
			msg = sanitizer.Sanitize(msg)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			Response:       ChatMessage{Message: msg, ContentType: string(ans.ContentType)},
			ConversationID: req.ConversationID,
		})
	}
}

// writeAnswerError maps pipeline failures onto status codes.
func writeAnswerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNotReady):
		httpError(w, http.StatusServiceUnavailable, "not_ready", "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout", "%v", err)
	case errors.Is(err, pipeline.ErrProviderUnavailable):
		slog.Warn("answer failed", "error", err)
		httpError(w, http.StatusBadGateway, "provider_error", "%v", err)
	default:
		slog.Error("answer failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func handleUVRules(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req uvRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	msg := uvRulesGuidance
	if strings.TrimSpace(req.UserRequest) == "" {
		msg = uvRulesMissing
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
