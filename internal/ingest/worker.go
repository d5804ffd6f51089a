// Package ingest turns RCA documents and ServiceNow incidents into defect
// records in the local store, through a polling job queue.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/storage"
)

// Job types handled by the Worker.
const (
	JobRCA        = "ingest_rca"
	JobBug        = "ingest_bug"
	JobServiceNow = "ingest_servicenow"
)

var jobTypes = []string{JobRCA, JobBug, JobServiceNow}

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// DefectWriter persists parsed records.
type DefectWriter interface {
	UpsertDefects(ctx context.Context, recs []defect.Record) error
}

// IncidentFetcher returns raw ServiceNow incidents.
type IncidentFetcher interface {
	FetchIncidents(ctx context.Context) ([]map[string]any, error)
}

// RCAPayload describes one RCA attachment. Content holds the attachment
// bytes, base64-encoded; Text may be given instead for plain documents.
type RCAPayload struct {
	BugID    string `json:"bug_id"`
	BugURL   string `json:"bug_url"`
	Owner    string `json:"owner"`
	Filename string `json:"filename"`
	Content  string `json:"content,omitempty"`
	Text     string `json:"text,omitempty"`
}

// BugPayload describes a bug with no RCA attachment.
type BugPayload struct {
	BugID       string   `json:"bug_id"`
	BugURL      string   `json:"bug_url"`
	Owner       string   `json:"owner"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Comments    []string `json:"comments"`
}

// NewJob builds a queued job with a fresh id and a JSON payload.
func NewJob(jobType string, payload any) (storage.Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	return storage.Job{ID: uuid.New().String(), Type: jobType, PayloadJSON: string(b)}, nil
}

// Worker processes ingest jobs from the SQLite job queue.
type Worker struct {
	store         JobStore
	defects       DefectWriter
	incidents     IncidentFetcher
	serviceNowURL string
	poll          time.Duration
	onChange      func(ctx context.Context)
	logger        *slog.Logger
}

// NewWorker creates a Worker with the given dependencies. incidents may be
// nil when ServiceNow is not configured. If pollInterval is <= 0, it
// defaults to 500ms.
func NewWorker(store JobStore, defects DefectWriter, incidents IncidentFetcher, serviceNowURL string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:         store,
		defects:       defects,
		incidents:     incidents,
		serviceNowURL: serviceNowURL,
		poll:          pollInterval,
		logger:        slog.Default(),
	}
}

// OnChange registers fn to run after a job stores new records.
func (w *Worker) OnChange(fn func(ctx context.Context)) {
	w.onChange = fn
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(jobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	n, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("ingest job completed", "job_id", job.ID, "type", job.Type, "records", n)
	if n > 0 && w.onChange != nil {
		w.onChange(ctx)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (int, error) {
	var recs []defect.Record
	switch job.Type {
	case JobRCA:
		var p RCAPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return 0, fmt.Errorf("parsing payload: %w", err)
		}
		rec, err := rcaRecord(p)
		if err != nil {
			return 0, err
		}
		recs = append(recs, rec)

	case JobBug:
		var p BugPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return 0, fmt.Errorf("parsing payload: %w", err)
		}
		if p.BugID == "" {
			return 0, fmt.Errorf("bug payload: %w", defect.ErrMalformed)
		}
		recs = append(recs, BasicRCA(p.BugID, p.BugURL, p.Owner, p.Summary, p.Description, p.Comments))

	case JobServiceNow:
		if w.incidents == nil {
			return 0, fmt.Errorf("servicenow is not configured")
		}
		raw, err := w.incidents.FetchIncidents(ctx)
		if err != nil {
			return 0, err
		}
		for _, inc := range raw {
			recs = append(recs, IncidentRecord(inc, w.serviceNowURL))
		}

	default:
		return 0, fmt.Errorf("unknown job type %q", job.Type)
	}

	if len(recs) == 0 {
		return 0, nil
	}
	if err := w.defects.UpsertDefects(ctx, recs); err != nil {
		return 0, fmt.Errorf("storing records: %w", err)
	}
	return len(recs), nil
}

func rcaRecord(p RCAPayload) (defect.Record, error) {
	if p.BugID == "" {
		return defect.Record{}, fmt.Errorf("rca payload: %w", defect.ErrMalformed)
	}
	text := p.Text
	if p.Content != "" {
		data, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return defect.Record{}, fmt.Errorf("decoding attachment: %w", err)
		}
		if text, err = ExtractText(p.Filename, data); err != nil {
			return defect.Record{}, err
		}
	}
	return ParseRCA(text, p.BugID, p.BugURL, p.Owner), nil
}
