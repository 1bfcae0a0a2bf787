package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"screenpilot/internal/config"
	"screenpilot/internal/helper"
	"screenpilot/internal/models"
)

const driverPQ = "pq"

type PageChunk struct {
	bun.BaseModel `bun:"table:page_chunks,alias:pc"`
	ID            string          `bun:"id,pk"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	PageNumber    int             `bun:"page_number"`
	ChunkID       int             `bun:"chunk_id"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

// pageChunkTable declares page_chunks without the embedding column, which
// createTableQuery adds with the configured dimension.
type pageChunkTable struct {
	bun.BaseModel `bun:"table:page_chunks,alias:pc"`
	ID            string    `bun:"id,pk"`
	Content       string    `bun:"content,notnull"`
	Source        string    `bun:"source,notnull"`
	PageNumber    int       `bun:"page_number"`
	ChunkID       int       `bun:"chunk_id"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// scored is a PageChunk with the distance computed by the search query.
type scored struct {
	PageChunk `bun:",extend"`
	Distance  float64 `bun:"distance"`
}

// Store is the pgvector backed vector store.
type Store struct {
	db        *bun.DB
	dimension int
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or lib/pq when driver is "pq".
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == driverPQ {
		return sql.Open("postgres", cfg.URL)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Open connects and wraps the connection in a Store.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return NewStore(NewDB(sqldb, cfg.Debug), cfg.Dimension), nil
}

func NewStore(db *bun.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

func (s *Store) Name() string { return config.StorePgvector }

// Init enables the vector extension and creates the table and its index.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := s.createTableQuery().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*PageChunk)(nil)).
		Index("page_chunks_source_idx").
		IfNotExists().
		Column("source").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *Store) createTableQuery() *bun.CreateTableQuery {
	return s.db.NewCreateTable().
		Model((*pageChunkTable)(nil)).
		ColumnExpr("embedding vector(?) NOT NULL", s.dimension).
		IfNotExists()
}

func (s *Store) Upsert(ctx context.Context, records []models.VectorRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	rows := make([]PageChunk, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		if len(r.Embedding) != s.dimension {
			return nil, fmt.Errorf("embedding has %d dimensions, table expects %d", len(r.Embedding), s.dimension)
		}
		id := r.ID
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, err
			}
		}
		ids[i] = id
		rows[i] = PageChunk{
			ID:         id,
			Content:    r.Content,
			Source:     r.Source,
			PageNumber: r.PageNumber,
			ChunkID:    r.ChunkID,
			Embedding:  pgvector.NewVector(r.Embedding),
		}
	}

	if _, err := s.upsertQuery(&rows).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	log.Debug().Int("count", len(rows)).Msg("Stored chunks")
	return ids, nil
}

func (s *Store) upsertQuery(rows *[]PageChunk) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(rows).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("source = EXCLUDED.source").
		Set("page_number = EXCLUDED.page_number").
		Set("chunk_id = EXCLUDED.chunk_id").
		Set("embedding = EXCLUDED.embedding")
}

// Query orders by cosine distance.
func (s *Store) Query(ctx context.Context, embedding []float32, topK int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	var rows []scored
	if err := s.searchQuery(&rows, embedding, topK).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	out := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SearchResult{
			ID:       r.ID,
			Text:     r.Content,
			Source:   r.Source,
			Distance: float32(r.Distance),
			Score:    float32(1 - r.Distance),
		})
	}
	return out, nil
}

func (s *Store) searchQuery(rows *[]scored, embedding []float32, topK int) *bun.SelectQuery {
	vec := pgvector.NewVector(embedding)
	return s.db.NewSelect().
		Model(rows).
		ColumnExpr("pc.id, pc.content, pc.source").
		ColumnExpr("pc.embedding <=> ? AS distance", vec).
		OrderExpr("pc.embedding <=> ?", vec).
		Limit(topK)
}

func (s *Store) DeleteDocument(ctx context.Context, source string) error {
	_, err := s.db.NewDelete().
		Model((*PageChunk)(nil)).
		Where("source = ?", source).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", source, err)
	}
	return nil
}

func (s *Store) Ready(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset drops the table and creates it again.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.NewDropTable().Model((*PageChunk)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return s.Init(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
