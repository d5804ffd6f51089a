package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bugbusters/bugbuster/internal/defect"
)

// File loads records from a JSON array of tracker documents, the same shape
// the defect_cause collection stores.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load(_ context.Context) ([]defect.Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading record file: %w", err)
	}
	return ParseDocuments(data, f.path)
}

// ParseDocuments decodes a JSON array of documents into records.
func ParseDocuments(data []byte, source string) ([]defect.Record, error) {
	var docs []map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}
	return normalizeAll(docs, source), nil
}
