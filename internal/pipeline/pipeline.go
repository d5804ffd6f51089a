// Package pipeline owns the active record snapshot and answers queries
// against it: classify, retrieve, compose.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bugbusters/bugbuster/internal/composer"
	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/intent"
	"github.com/bugbusters/bugbuster/internal/recordstore"
	"github.com/bugbusters/bugbuster/internal/render"
	"github.com/bugbusters/bugbuster/internal/retrieval"
	"github.com/bugbusters/bugbuster/internal/storage"
)

var (
	// ErrNotReady is returned until a snapshot has been loaded successfully.
	ErrNotReady = errors.New("pipeline not initialised")
	// ErrProviderUnavailable marks embedding or generation failures.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Provider names used in errors and metrics.
const (
	ProviderEmbedding  = "embedding"
	ProviderGeneration = "generation"
)

// ProviderError wraps a failed embedding or generation call. It matches
// ErrProviderUnavailable with errors.Is.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderUnavailable }

// Observer receives pipeline events. metrics.Metrics satisfies it.
type Observer interface {
	ObserveAnswer(state, contentType string, d time.Duration)
	ObserveProvider(provider string, err error)
	ObserveReload(records int, err error)
}

// InteractionRecorder persists answered queries. storage.Store satisfies it.
type InteractionRecorder interface {
	SaveInteraction(i storage.Interaction) error
}

// Deps are the collaborators a Pipeline is built from. Recorder, Observer,
// History and Renderer are optional.
type Deps struct {
	Loader    recordstore.Loader
	Embedder  retrieval.TextEmbedder
	Generator composer.Generator
	History   composer.History
	Renderer  render.Renderer
	Recorder  InteractionRecorder
	Observer  Observer
	Composer  composer.Options
	TopK      int
	Threshold float64
}

// Stats describes the active snapshot.
type Stats struct {
	Ready     bool      `json:"ready"`
	Records   int       `json:"records"`
	Dimension int       `json:"dimension"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// snapshot is immutable once published.
type snapshot struct {
	records   []defect.Record
	ids       intent.IDSet
	retriever *retrieval.Retriever
	dim       int
	loadedAt  time.Time
}

// Pipeline is safe for concurrent use. Queries read the current snapshot
// without locking; Initialize and Reload build a new one and swap it in.
type Pipeline struct {
	loader     recordstore.Loader
	embedder   retrieval.TextEmbedder
	classifier *intent.Classifier
	composer   *composer.Composer
	recorder   InteractionRecorder
	observer   Observer
	topK       int
	threshold  float64

	snap     atomic.Pointer[snapshot]
	reloadMu sync.Mutex
	lastErr  atomic.Value // string
}

// New wires a Pipeline. It does not load anything; call Initialize.
func New(deps Deps) *Pipeline {
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	topK := deps.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	emb := &observedEmbedder{inner: deps.Embedder, obs: obs}
	gen := &observedGenerator{inner: deps.Generator, obs: obs}
	return &Pipeline{
		loader:     deps.Loader,
		embedder:   emb,
		classifier: intent.New(),
		composer:   composer.New(gen, deps.History, deps.Renderer, deps.Composer),
		recorder:   deps.Recorder,
		observer:   obs,
		topK:       topK,
		threshold:  deps.Threshold,
	}
}

// Initialize loads records, builds the index and publishes the snapshot.
// Until it succeeds every query fails with ErrNotReady.
func (p *Pipeline) Initialize(ctx context.Context) error {
	return p.Reload(ctx)
}

// Reload rebuilds the snapshot from the loader. The previous snapshot stays
// active when any step fails.
func (p *Pipeline) Reload(ctx context.Context) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	start := time.Now()
	snap, err := p.build(ctx)
	p.observer.ObserveReload(len(snapshotRecords(snap)), err)
	if err != nil {
		p.lastErr.Store(err.Error())
		slog.Error("snapshot build failed", "error", err, "serving_previous", p.snap.Load() != nil)
		return err
	}
	p.lastErr.Store("")
	p.snap.Store(snap)
	slog.Info("snapshot loaded", "records", len(snap.records), "dimension", snap.dim, "duration", time.Since(start))
	return nil
}

func snapshotRecords(s *snapshot) []defect.Record {
	if s == nil {
		return nil
	}
	return s.records
}

func (p *Pipeline) build(ctx context.Context) (*snapshot, error) {
	recs, err := p.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	recs, dropped := defect.Dedupe(recs)
	for _, id := range dropped {
		slog.Warn("dropping duplicate record", "id", id)
	}

	texts := make([]string, len(recs))
	ids := make([]string, len(recs))
	for i, r := range recs {
		texts[i] = r.SummaryOrDefault()
		ids[i] = r.ID
	}

	idx, err := retrieval.BuildIndex(ctx, p.embedder, texts)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderEmbedding, Err: err}
	}
	ret, err := retrieval.NewRetriever(recs, idx, p.topK, p.threshold)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		records:   recs,
		ids:       intent.NewIDSet(ids...),
		retriever: ret,
		dim:       idx.Dim(),
		loadedAt:  time.Now().UTC(),
	}, nil
}

// Answer classifies query, retrieves candidates from the active snapshot
// and composes the reply. sessionID scopes the conversation history.
func (p *Pipeline) Answer(ctx context.Context, sessionID, query string) (composer.Answer, error) {
	snap := p.snap.Load()
	if snap == nil {
		return composer.Answer{}, ErrNotReady
	}
	start := time.Now()

	it := p.classifier.Classify(query, snap.ids)
	cands, err := snap.retriever.Retrieve(ctx, query, it)
	if err != nil {
		err = providerError(ProviderEmbedding, err)
		p.record(sessionID, query, it, composer.Answer{}, cands, start, err)
		return composer.Answer{}, err
	}

	ans, err := p.composer.Compose(ctx, composer.Request{
		SessionID:  sessionID,
		Query:      query,
		Intent:     it,
		Candidates: cands,
		ValidIDs:   snap.ids,
	})
	if err != nil {
		err = providerError(ProviderGeneration, err)
		p.record(sessionID, query, it, composer.Answer{}, cands, start, err)
		return composer.Answer{}, err
	}

	p.observer.ObserveAnswer(string(ans.State), string(ans.ContentType), time.Since(start))
	p.record(sessionID, query, it, ans, cands, start, nil)
	slog.Debug("answered query", "intent", it.Kind, "rule", it.Rule, "state", ans.State,
		"candidates", len(cands), "duration", time.Since(start))
	return ans, nil
}

// providerError wraps a failed provider call. Cancellation and deadlines
// stay plain so callers can tell a timeout from an unavailable provider.
func providerError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return &ProviderError{Provider: provider, Err: err}
}

func (p *Pipeline) record(sessionID, query string, it intent.Intent, ans composer.Answer, cands []retrieval.Candidate, start time.Time, answerErr error) {
	if p.recorder == nil {
		return
	}
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Record.ID
	}
	idsJSON, _ := json.Marshal(ids)

	in := storage.Interaction{
		ID:           uuid.New().String(),
		CreatedAt:    start.UTC(),
		SessionID:    sessionID,
		UserQuery:    query,
		Intent:       it.Kind.String(),
		State:        string(ans.State),
		ContentType:  string(ans.ContentType),
		Response:     ans.Message,
		CandidateIDs: string(idsJSON),
		LatencyMS:    time.Since(start).Milliseconds(),
		Status:       "completed",
	}
	if answerErr != nil {
		in.Status = "failed"
		in.Error = answerErr.Error()
	}
	if err := p.recorder.SaveInteraction(in); err != nil {
		slog.Warn("failed to record interaction", "error", err)
	}
}

// Ready reports whether a snapshot is active.
func (p *Pipeline) Ready() bool { return p.snap.Load() != nil }

// ValidIDs returns the identifier set of the active snapshot.
func (p *Pipeline) ValidIDs() intent.IDSet {
	if s := p.snap.Load(); s != nil {
		return s.ids
	}
	return intent.NewIDSet()
}

// Records returns a copy of the active records in storage order.
func (p *Pipeline) Records() []defect.Record {
	s := p.snap.Load()
	if s == nil {
		return nil
	}
	return append([]defect.Record(nil), s.records...)
}

// Record returns the active record with the given id.
func (p *Pipeline) Record(id string) (defect.Record, bool) {
	s := p.snap.Load()
	if s == nil {
		return defect.Record{}, false
	}
	if c := s.retriever.ByID(id); len(c) == 1 {
		return c[0].Record, true
	}
	return defect.Record{}, false
}

func (p *Pipeline) Stats() Stats {
	st := Stats{}
	if v, ok := p.lastErr.Load().(string); ok {
		st.LastError = v
	}
	s := p.snap.Load()
	if s == nil {
		return st
	}
	st.Ready = true
	st.Records = len(s.records)
	st.Dimension = s.dim
	st.LoadedAt = s.loadedAt
	return st
}
