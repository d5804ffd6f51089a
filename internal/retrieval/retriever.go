package retrieval

import (
	"context"
	"fmt"
	"math"

	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/intent"
)

const (
	DefaultTopK      = 10
	DefaultThreshold = 0.30
)

// Candidate is a record selected for a query. Scored is set only by
// similarity retrieval.
type Candidate struct {
	Record defect.Record
	Score  float64
	Scored bool
}

// RelevanceScore is the similarity as a percentage rounded to two decimals.
func (c Candidate) RelevanceScore() float64 {
	return math.Round(c.Score*100*100) / 100
}

// Retriever selects candidate records by exact ID, as the whole collection,
// or by similarity over an Index built from the same records.
type Retriever struct {
	records   []defect.Record
	index     *Index
	topK      int
	threshold float64
}

// NewRetriever pairs records with the index built from their summaries.
// index.Len() must equal len(records).
func NewRetriever(records []defect.Record, index *Index, topK int, threshold float64) (*Retriever, error) {
	if index.Len() != len(records) {
		return nil, fmt.Errorf("index has %d vectors for %d records", index.Len(), len(records))
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{records: records, index: index, topK: topK, threshold: threshold}, nil
}

// Retrieve dispatches on the intent kind. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, it intent.Intent) ([]Candidate, error) {
	switch it.Kind {
	case intent.InvalidIdentifier:
		return nil, nil
	case intent.ExactRecord:
		return r.ByID(it.TargetID), nil
	case intent.AllRecords:
		return r.All(), nil
	default:
		return r.Semantic(ctx, query)
	}
}

// ByID returns the record with the given ID, if any, unscored.
func (r *Retriever) ByID(id string) []Candidate {
	for _, rec := range r.records {
		if rec.ID == id {
			return []Candidate{{Record: rec}}
		}
	}
	return nil
}

// All returns every record in storage order, unscored.
func (r *Retriever) All() []Candidate {
	out := make([]Candidate, len(r.records))
	for i, rec := range r.records {
		out[i] = Candidate{Record: rec}
	}
	return out
}

// Semantic returns up to topK records scoring above the threshold, best first.
func (r *Retriever) Semantic(ctx context.Context, query string) ([]Candidate, error) {
	hits, err := r.index.Search(ctx, query, r.topK, r.threshold)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{Record: r.records[h.Position], Score: h.Score, Scored: true}
	}
	return out, nil
}
