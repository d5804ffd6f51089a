package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrDimensionMismatch is returned when a vector does not match the index width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Hit is one similarity search result: the record position the vector was
// built from, and its cosine similarity with the query.
type Hit struct {
	Position int
	Score    float64
}

// Index holds one unit-length vector per record, in record order. Position i
// always corresponds to the i-th text passed to BuildIndex. An Index is never
// mutated after it is built.
type Index struct {
	embedder TextEmbedder
	vectors  [][]float32
	dim      int
}

// BuildIndex embeds texts in order and stores the normalised vectors.
func BuildIndex(ctx context.Context, embedder TextEmbedder, texts []string) (*Index, error) {
	idx := &Index{embedder: embedder}
	if len(texts) == 0 {
		return idx, nil
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("building index: got %d vectors for %d texts", len(vecs), len(texts))
	}

	idx.dim = len(vecs[0])
	idx.vectors = make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) != idx.dim {
			return nil, fmt.Errorf("building index: vector %d: %w (got %d, want %d)", i, ErrDimensionMismatch, len(v), idx.dim)
		}
		idx.vectors[i] = normalize(v)
	}
	return idx, nil
}

// Len returns the number of indexed vectors.
func (idx *Index) Len() int { return len(idx.vectors) }

// Dim returns the vector width, zero for an empty index.
func (idx *Index) Dim() int { return idx.dim }

// Search embeds query once and scores it against every stored vector. Only
// hits scoring strictly above threshold are kept. Hits are ordered by score
// descending; equal scores keep position order. At most topK are returned.
// An empty index returns no hits without calling the embedder.
func (idx *Index) Search(ctx context.Context, query string, topK int, threshold float64) ([]Hit, error) {
	if idx.Len() == 0 || topK <= 0 {
		return nil, nil
	}
	q, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return idx.SearchVector(q, topK, threshold)
}

// SearchVector is Search with a precomputed query vector.
func (idx *Index) SearchVector(q []float32, topK int, threshold float64) ([]Hit, error) {
	if idx.Len() == 0 || topK <= 0 {
		return nil, nil
	}
	if len(q) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(q), idx.dim)
	}
	q = normalize(q)

	var hits []Hit
	for i, v := range idx.vectors {
		if score := dot(q, v); score > threshold {
			hits = append(hits, Hit{Position: i, Score: score})
		}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// normalize returns a unit-length copy of v. A zero vector stays zero and
// scores 0 against everything.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := norm(v)
	if n == 0 {
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
