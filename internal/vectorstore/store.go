// Package vectorstore defines the storage contract the pipeline needs from a
// vector database.
package vectorstore

import (
	"context"

	"screenpilot/internal/models"
)

// Store persists chunk vectors and answers nearest-neighbour queries.
// Identifier uniqueness is the backend's job.
type Store interface {
	Name() string
	Init(ctx context.Context) error
	Upsert(ctx context.Context, records []models.VectorRecord) ([]string, error)
	Query(ctx context.Context, embedding []float32, topK int) ([]models.SearchResult, error)
	DeleteDocument(ctx context.Context, source string) error
	Ready(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}
