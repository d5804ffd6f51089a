package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bugbusters/bugbuster/internal/ingest"
	"github.com/bugbusters/bugbuster/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// InteractionStore reads recorded queries. storage.Store satisfies it.
type InteractionStore interface {
	GetRecentInteractions(sessionID string, limit int) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
}

// JobQueue enqueues and inspects ingest jobs. storage.Store satisfies it.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
}

// IngestObserver counts enqueued jobs. metrics.Metrics satisfies it.
type IngestObserver interface {
	ObserveIngestJob(jobType string)
}

type AdminDeps struct {
	Token        string
	Interactions InteractionStore
	Jobs         JobQueue
	Observer     IngestObserver // optional
}

// IngestRequest asks for one ingest job. Type is "rca", "bug" or
// "servicenow"; the other fields depend on it.
type IngestRequest struct {
	Type        string   `json:"type"`
	BugID       string   `json:"bug_id"`
	BugURL      string   `json:"bug_url"`
	Owner       string   `json:"owner"`
	Filename    string   `json:"filename"`
	Content     string   `json:"content"`
	Text        string   `json:"text"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Comments    []string `json:"comments"`
}

// NewAdminHandler returns the bearer-protected admin API.
func NewAdminHandler(deps AdminDeps, p Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/reload", handleReload(p))
	r.Get("/stats", handleStats(p))
	r.Get("/interactions", handleListInteractions(deps))
	r.Get("/interactions/{id}", handleGetInteraction(deps))
	r.Post("/ingest", handleIngest(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))

	return r
}

func handleReload(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Reload(r.Context()); err != nil {
			writeAnswerError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.Stats())
	}
}

func handleStats(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.Stats())
	}
}

func handleListInteractions(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		session := r.URL.Query().Get("session_id")

		interactions, err := deps.Interactions.GetRecentInteractions(session, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

func handleGetInteraction(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Interactions.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interaction)
	}
}

func handleIngest(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		jobType, payload, msg := ingestPayload(req)
		if msg != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
			return
		}

		job, err := ingest.NewJob(jobType, payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		if err := deps.Jobs.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}
		if deps.Observer != nil {
			deps.Observer.ObserveIngestJob(jobType)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"id":     job.ID,
			"type":   jobType,
			"status": "queued",
		})
	}
}

// ingestPayload validates req and picks the job it becomes. A non-empty
// message describes why the request was rejected.
func ingestPayload(req IngestRequest) (string, any, string) {
	switch strings.ToLower(req.Type) {
	case "rca":
		if req.BugID == "" {
			return "", nil, "bug_id is required"
		}
		if req.Content == "" && req.Text == "" {
			return "", nil, "one of content or text is required"
		}
		if req.Content != "" {
			if _, err := base64.StdEncoding.DecodeString(req.Content); err != nil {
				return "", nil, "invalid base64 content"
			}
		}
		return ingest.JobRCA, ingest.RCAPayload{
			BugID:    req.BugID,
			BugURL:   req.BugURL,
			Owner:    req.Owner,
			Filename: req.Filename,
			Content:  req.Content,
			Text:     req.Text,
		}, ""
	case "bug":
		if req.BugID == "" {
			return "", nil, "bug_id is required"
		}
		return ingest.JobBug, ingest.BugPayload{
			BugID:       req.BugID,
			BugURL:      req.BugURL,
			Owner:       req.Owner,
			Summary:     req.Summary,
			Description: req.Description,
			Comments:    req.Comments,
		}, ""
	case "servicenow":
		return ingest.JobServiceNow, struct{}{}, ""
	default:
		return "", nil, "type must be one of rca, bug, servicenow"
	}
}

func handleGetJob(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
