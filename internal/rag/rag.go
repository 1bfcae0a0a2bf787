package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"screenpilot/internal/helper"
	"screenpilot/internal/models"
	"screenpilot/internal/parser"
	"screenpilot/internal/vectorstore"
)

const (
	KindPage   = "page"
	KindUpload = "upload"
)

// Embedder is the part of embedding.Embedder the pipeline uses.
type Embedder interface {
	BuildIndex(ctx context.Context, text string) ([]models.Chunk, [][]float32, error)
	EmbedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error)
	EmbedQuery(ctx context.Context, question string) ([]float32, error)
}

// Generator is the part of llmservice.Client the pipeline uses.
type Generator interface {
	GenerateAnswer(ctx context.Context, question, retrieved, provider string) (*models.PromptResponse, error)
	// Available fails when no configured model can answer for provider.
	Available(provider string) error
	HasGemini() bool
}

type AskRequest struct {
	Question string
	Context  string
	Provider string
	TopK     int
}

type UploadResult struct {
	DocumentID     string
	Filename       string
	PagesProcessed int
	ChunksCreated  int
}

// Health is the per-component status map served on /health.
type Health struct {
	Status     string
	Components map[string]string
}

type RAG struct {
	store     vectorstore.Store
	embedder  Embedder
	generator Generator
	chunkSize int
	topK      int

	mu   sync.RWMutex
	docs map[string]models.Document
}

func NewRAG(store vectorstore.Store, embedder Embedder, generator Generator, chunkSize, topK int) *RAG {
	return &RAG{
		store:     store,
		embedder:  embedder,
		generator: generator,
		chunkSize: chunkSize,
		topK:      topK,
		docs:      make(map[string]models.Document),
	}
}

// Ask indexes the optional page context, retrieves the closest chunks of the
// whole collection and asks the model for an answer.
func (r *RAG) Ask(ctx context.Context, req AskRequest) (*models.PromptResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, models.ErrEmptyQuestion
	}
	log.Info().Str("question", helper.Truncate(question, 100)).Str("provider", req.Provider).Msg("Processing question")
	// refuse before anything is stored
	if err := r.generator.Available(req.Provider); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Context) != "" {
		log.Info().Msg("Step 1: Chunking and embedding context text")
		chunks, vectors, err := r.embedder.BuildIndex(ctx, req.Context)
		if err != nil {
			return nil, fmt.Errorf("indexing context: %w", err)
		}

		log.Info().Msg("Step 2: Storing embeddings")
		docID, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		if _, err := r.index(ctx, docID, KindPage, "page", 1, chunks, vectors); err != nil {
			return nil, err
		}
	}

	log.Info().Msg("Step 3: Generating question embedding")
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("Step 4: Retrieving similar chunks")
	topK := req.TopK
	if topK <= 0 {
		topK = r.topK
	}
	sources, err := r.store.Query(ctx, queryEmbedding, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving chunks: %w", err)
	}
	retrieved := joinSources(sources)
	log.Info().Int("chunks", len(sources)).Msg("Retrieved relevant chunks")

	log.Info().Str("provider", req.Provider).Msg("Step 5: Generating answer")
	res, err := r.generator.GenerateAnswer(ctx, question, retrieved, req.Provider)
	if err != nil {
		return nil, err
	}
	res.Sources = sources
	log.Info().Str("trace_id", res.TraceID).Msg("Successfully processed question")
	return res, nil
}

// Upload extracts, chunks, embeds and stores a file under a new document id.
func (r *RAG) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	docID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	return r.upload(ctx, docID, filename, data, false)
}

// Reindex stores a file under a caller chosen document id, replacing the
// chunks previously stored under it. The old chunks survive a failed parse or
// embedding.
func (r *RAG) Reindex(ctx context.Context, docID, filename string, data []byte) (*UploadResult, error) {
	return r.upload(ctx, docID, filename, data, true)
}

func (r *RAG) upload(ctx context.Context, docID, filename string, data []byte, replace bool) (*UploadResult, error) {
	extracted, err := parser.ExtractText(filename, data)
	if err != nil {
		return nil, err
	}
	if len(extracted.Pages) == 0 {
		return nil, models.ErrEmptyContent
	}

	chunks := parser.ParseToChunks(extracted, r.chunkSize)
	vectors, err := r.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", filename, err)
	}

	if replace {
		if err := r.store.DeleteDocument(ctx, docID); err != nil {
			return nil, err
		}
	}
	doc, err := r.index(ctx, docID, KindUpload, filename, len(extracted.Pages), chunks, vectors)
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		DocumentID:     doc.ID,
		Filename:       filename,
		PagesProcessed: doc.Pages,
		ChunksCreated:  doc.Chunks,
	}, nil
}

// index upserts the chunk vectors under docID and records the document in the
// catalogue.
func (r *RAG) index(ctx context.Context, docID, kind, filename string, pages int, chunks []models.Chunk, vectors [][]float32) (models.Document, error) {
	if len(chunks) != len(vectors) {
		return models.Document{}, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = models.VectorRecord{
			Content:    c.Content,
			Source:     docID,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
			Embedding:  vectors[i],
		}
	}
	if _, err := r.store.Upsert(ctx, records); err != nil {
		return models.Document{}, fmt.Errorf("storing embeddings: %w", err)
	}

	doc := models.Document{
		ID:        docID,
		Filename:  filename,
		Kind:      kind,
		Pages:     pages,
		Chunks:    len(chunks),
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.docs[docID] = doc
	r.mu.Unlock()

	log.Info().Str("document_id", docID).Str("kind", kind).Int("chunks", len(chunks)).Msg("Stored document")
	return doc, nil
}

// ListDocuments returns documents indexed since start-up, oldest first.
func (r *RAG) ListDocuments(ctx context.Context) []models.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *RAG) DeleteDocument(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.docs[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}

	if err := r.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.docs, id)
	r.mu.Unlock()
	log.Info().Str("document_id", id).Msg("Deleted document")
	return nil
}

// Health checks the vector store; the model clients are stateless and are
// reported as connected. The llamaindex, weaviate and friendliai keys are
// always present. weaviate carries the status of whichever store is
// configured, which is also reported under its own name.
func (r *RAG) Health(ctx context.Context) Health {
	storeStatus := "connected"
	status := "healthy"
	if err := r.store.Ready(ctx); err != nil {
		storeStatus = "error: " + err.Error()
		status = "degraded"
	}
	h := Health{
		Status: status,
		Components: map[string]string{
			"llamaindex":   "connected",
			"weaviate":     storeStatus,
			"friendliai":   "connected",
			r.store.Name(): storeStatus,
		},
	}
	if r.generator.HasGemini() {
		h.Components["gemini"] = "configured"
	} else {
		h.Components["gemini"] = "not configured"
	}
	return h
}

func joinSources(sources []models.SearchResult) string {
	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Text
	}
	return strings.Join(texts, models.ContextSeparator)
}
