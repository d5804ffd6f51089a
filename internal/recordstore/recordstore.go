// Package recordstore loads the defect snapshot the answer pipeline serves
// from. Every backend returns records in storage order.
package recordstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bugbusters/bugbuster/internal/config"
	"github.com/bugbusters/bugbuster/internal/defect"
	"github.com/bugbusters/bugbuster/internal/storage"
)

// Loader returns the full set of records to index.
type Loader interface {
	Load(ctx context.Context) ([]defect.Record, error)
}

// DefectLister is the part of storage.Store the SQLite loader needs.
type DefectLister interface {
	ListDefects(ctx context.Context) ([]defect.Record, error)
}

// SQLite loads records from the local defects table.
type SQLite struct {
	store DefectLister
}

func NewSQLite(store DefectLister) *SQLite {
	return &SQLite{store: store}
}

func (s *SQLite) Load(ctx context.Context) ([]defect.Record, error) {
	recs, err := s.store.ListDefects(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading defects from sqlite: %w", err)
	}
	return recs, nil
}

// New selects the loader named by cfg.Store.Backend. The returned close
// function releases backend connections and is never nil.
func New(ctx context.Context, cfg config.Config, store *storage.Store) (Loader, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Store.Backend {
	case config.StoreSQLite, "":
		return NewSQLite(store), noop, nil
	case config.StoreFile:
		return NewFile(cfg.Store.File), noop, nil
	case config.StoreMongo:
		m, err := DialMongo(ctx, cfg.Mongo, cfg.Links.ServiceNowURL)
		if err != nil {
			return nil, noop, err
		}
		return m, m.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// normalizeAll converts raw documents and skips the malformed ones.
func normalizeAll(docs []map[string]any, source string) []defect.Record {
	out := make([]defect.Record, 0, len(docs))
	for i, doc := range docs {
		rec, err := defect.FromDocument(doc)
		if err != nil {
			slog.Warn("skipping malformed record", "source", source, "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}
