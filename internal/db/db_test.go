package db

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/pgdriver"

	"screenpilot/internal/config"
	"screenpilot/internal/models"
	"screenpilot/internal/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

// newOfflineStore never dials; queries are only rendered.
func newOfflineStore(t *testing.T, dimension int) *Store {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN("postgres://postgres@localhost:1/none?sslmode=disable")))
	s := NewStore(NewDB(sqldb, false), dimension)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearchQuery(t *testing.T) {
	s := newOfflineStore(t, 3)
	var rows []scored
	query := s.searchQuery(&rows, []float32{1, 2, 3}, 3).String()

	assert.Contains(t, query, `"page_chunks" AS "pc"`)
	assert.Contains(t, query, `pc.embedding <=> '[1,2,3]' AS distance`)
	assert.Contains(t, query, `ORDER BY pc.embedding <=> '[1,2,3]'`)
	assert.Contains(t, query, "LIMIT 3")
}

func TestCreateTableQueryUsesDimension(t *testing.T) {
	query := newOfflineStore(t, 768).createTableQuery().String()

	assert.Contains(t, query, `CREATE TABLE IF NOT EXISTS "page_chunks"`)
	assert.Contains(t, query, "embedding vector(768) NOT NULL")
	assert.Contains(t, query, `"source" VARCHAR NOT NULL`)
	assert.Contains(t, query, `PRIMARY KEY ("id")`)
	assert.Equal(t, 1, strings.Count(query, "embedding"))
}

func TestUpsertQueryUpdatesAllColumns(t *testing.T) {
	s := newOfflineStore(t, 2)
	rows := []PageChunk{{ID: "c1", Content: "x", Source: "doc", PageNumber: 2, ChunkID: 5, Embedding: pgvector.NewVector([]float32{1, 2})}}
	query := s.upsertQuery(&rows).String()

	assert.Contains(t, query, `ON CONFLICT (id) DO UPDATE SET`)
	for _, col := range []string{"content", "source", "page_number", "chunk_id", "embedding"} {
		assert.Contains(t, query, col+" = EXCLUDED."+col)
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s := newOfflineStore(t, 4)
	_, err := s.Upsert(context.Background(), []models.VectorRecord{{Content: "x", Embedding: []float32{1, 2}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 4")

	ids, err := s.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestConnectDBDrivers(t *testing.T) {
	pq, err := ConnectDB(&config.DatabaseConfig{Driver: "pq", URL: "postgres://localhost/none?sslmode=disable"})
	require.NoError(t, err)
	assert.NoError(t, pq.Close())

	pg, err := ConnectDB(&config.DatabaseConfig{URL: "postgres://localhost/none?sslmode=disable", Password: "secret"})
	require.NoError(t, err)
	assert.NoError(t, pg.Close())
}
