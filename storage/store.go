// Package storage holds the vector index backends and the on-disk
// video metadata store. The vector backends are interchangeable:
// in-memory for development and tests, pgvector and Milvus for real
// deployments, selected through the STORE environment variable.
package storage

import (
	"context"
	"log"
	"os"
	"strings"

	"videorag/config"
	"videorag/core"
)

// Meta is the scalar payload stored alongside each vector.
type Meta struct {
	VideoID       string           `json:"video_id"`
	Kind          core.ContentKind `json:"kind"`
	Start         float64          `json:"start"`
	End           float64          `json:"end"`
	Timestamp     float64          `json:"timestamp"`
	FramePath     string           `json:"frame_path,omitempty"`
	ThumbnailPath string           `json:"thumbnail_path,omitempty"`
}

// Record is one indexed content unit.
type Record struct {
	ID       string
	Document string
	Vector   []float32
	Meta     Meta
}

// Match is a record returned from a similarity query. Distance is
// cosine distance; zero means identical direction.
type Match struct {
	Record
	Distance float64
}

// Filter scopes queries to a video and, optionally, to content kinds.
// A zero Filter matches everything.
type Filter struct {
	VideoID string
	Kinds   []core.ContentKind
}

func (f Filter) matchesKind(k core.ContentKind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if k == want {
			return true
		}
	}
	return false
}

func (f Filter) matches(m Meta) bool {
	if f.VideoID != "" && m.VideoID != f.VideoID {
		return false
	}
	return f.matchesKind(m.Kind)
}

// VectorStore abstracts the vector index backend.
type VectorStore interface {
	Upsert(ctx context.Context, records []Record) (int, error)
	Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error)
	Fetch(ctx context.Context, f Filter) ([]Record, error)
	Delete(ctx context.Context, f Filter) (int, error)
	Count(ctx context.Context, f Filter) (int, error)
	VideoIDs(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// NewFromEnv selects the backend through the STORE environment
// variable (memory, pgvector, milvus). Backend failures fall back to
// the memory store with a warning rather than aborting startup.
func NewFromEnv(ctx context.Context, cfg *config.Config) VectorStore {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))) {
	case "pgvector":
		s, err := NewPgVector(ctx, cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize pgvector store (%v), falling back to memory store", err)
			return NewMemory()
		}
		return s
	case "milvus":
		s, err := NewMilvus(ctx, cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize Milvus store (%v), falling back to memory store", err)
			return NewMemory()
		}
		return s
	default:
		return NewMemory()
	}
}
