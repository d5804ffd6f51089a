package retrieval

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// SQLiteCache stores embeddings keyed by model and text hash in the
// embedding_cache table. The table is created by storage migrations.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache wraps an existing *sql.DB.
func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, or ok=false on a miss.
func (c *SQLiteCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT embedding FROM embedding_cache WHERE model = ? AND text_hash = ?`,
		model, textHash(text)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading embedding cache: %w", err)
	}
	vec, err := decodeFloat32s(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Put stores a vector, replacing any previous entry.
func (c *SQLiteCache) Put(ctx context.Context, model, text string, vec []float32) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embedding_cache (model, text_hash, embedding, created_at) VALUES (?, ?, ?, ?)`,
		model, textHash(text), encodeFloat32s(vec), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors.
func (c *SQLiteCache) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&n)
	return n, err
}

// CachedEmbedder consults the cache before calling the embedding engine and
// writes new vectors through. Cache failures are logged and never fail an
// embedding call.
type CachedEmbedder struct {
	inner *Embedder
	cache *SQLiteCache
}

// NewCachedEmbedder wraps inner with cache.
func NewCachedEmbedder(inner *Embedder, cache *SQLiteCache) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok, err := c.cache.Get(ctx, c.inner.Model(), text); err == nil && ok {
		return vec, nil
	} else if err != nil {
		slog.Warn("embedding cache lookup failed", "error", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(ctx, c.inner.Model(), text, vec); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.inner.Model()
	out := make([][]float32, len(texts))

	var missTexts []string
	var missPos []int
	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, model, t)
		if err != nil {
			slog.Warn("embedding cache lookup failed", "error", err)
		}
		if ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missPos = append(missPos, i)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missPos[j]] = vec
			if err := c.cache.Put(ctx, model, missTexts[j], vec); err != nil {
				slog.Warn("embedding cache write failed", "error", err)
			}
		}
	}

	slog.Debug("embedded batch", "total", len(texts), "cache_hits", len(texts)-len(missTexts))
	return out, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
