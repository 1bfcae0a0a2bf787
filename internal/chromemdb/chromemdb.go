package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"screenpilot/internal/config"
	"screenpilot/internal/helper"
	"screenpilot/internal/models"
)

// metadata keys
const (
	metaSource  = "source"
	metaPage    = "page"
	metaChunkID = "chunk_id"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	inMemory       bool
	compress       bool
	encryptionKey  string
	filePath       string
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(cfg config.ChromemConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:             db,
		collectionName: cfg.Collection,
		dbPath:         cfg.Path,
		inMemory:       cfg.InMemory,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		filePath:       filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}, nil
}

func (m *VectorDBManager) Name() string { return config.StoreChromem }

// Init creates the collection if it does not exist yet.
func (m *VectorDBManager) Init(ctx context.Context) error {
	_, err := m.GetOrCreateCollection(m.collectionName)
	return err
}

// GetOrCreateCollection opens or creates a collection. Embeddings are always
// supplied by the caller, so no embedding func is registered.
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) current() (*chromem.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return nil, errors.New("collection is not initialized")
	}
	return m.collection, nil
}

// Upsert adds records; IDs are generated for records that have none.
func (m *VectorDBManager) Upsert(ctx context.Context, records []models.VectorRecord) ([]string, error) {
	c, err := m.current()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	docs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		id := r.ID
		if id == "" {
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, err
			}
		}
		ids[i] = id
		docs[i] = chromem.Document{
			ID:        id,
			Content:   r.Content,
			Metadata:  createMetadata(r),
			Embedding: r.Embedding,
		}
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Int("count", len(docs)).Str("collection", c.Name).Msg("Upserted documents")
	return ids, nil
}

// Query returns up to topK documents ordered by cosine similarity.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, topK int) ([]models.SearchResult, error) {
	c, err := m.current()
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	// chromem refuses nResults larger than the collection
	n := min(topK, c.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.SearchResult{
			ID:       r.ID,
			Text:     r.Content,
			Source:   r.Metadata[metaSource],
			Score:    r.Similarity,
			Distance: 1 - r.Similarity,
		})
	}
	return out, nil
}

// DeleteDocument removes every chunk whose source matches.
func (m *VectorDBManager) DeleteDocument(ctx context.Context, source string) error {
	c, err := m.current()
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, map[string]string{metaSource: source}, nil); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", source, err)
	}
	return nil
}

func (m *VectorDBManager) Ready(ctx context.Context) error {
	_, err := m.current()
	return err
}

// Reset drops the collection and creates it again empty.
func (m *VectorDBManager) Reset(ctx context.Context) error {
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	return m.Init(ctx)
}

// DeleteCollection drops the managed collection.
func (m *VectorDBManager) DeleteCollection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	return nil
}

// Count is the number of stored chunks.
func (m *VectorDBManager) Count() int {
	c, err := m.current()
	if err != nil {
		return 0
	}
	return c.Count()
}

// Close exports in-memory collections when an encryption key is configured,
// so they survive a restart.
func (m *VectorDBManager) Close() error {
	if m.inMemory && m.encryptionKey != "" {
		return m.Export(context.Background())
	}
	return nil
}

// Export writes the collection to an encrypted file.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	c, err := m.current()
	if err != nil {
		return err
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}
	if err := helper.CreateFolder(m.dbPath); err != nil {
		return err
	}

	log.Debug().Str("collection", c.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, c.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a collection previously written by Export.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return m.Init(ctx)
}

func createMetadata(r models.VectorRecord) map[string]string {
	return map[string]string{
		metaSource:  r.Source,
		metaPage:    strconv.Itoa(r.PageNumber),
		metaChunkID: strconv.Itoa(r.ChunkID),
	}
}
