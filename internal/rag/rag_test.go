package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenpilot/internal/chromemdb"
	"screenpilot/internal/config"
	"screenpilot/internal/models"
	"screenpilot/internal/parser"
)

// keywordEmbedder maps text onto three axes so retrieval is predictable.
type keywordEmbedder struct {
	chunkSize int
	fail      bool
}

func (k *keywordEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	for i, word := range []string{"solar", "wind", "coal"} {
		if strings.Contains(text, word) {
			v[i] = 1
		}
	}
	return v
}

func (k *keywordEmbedder) BuildIndex(ctx context.Context, text string) ([]models.Chunk, [][]float32, error) {
	chunks := parser.ParseToChunks(parser.Extracted{Pages: []parser.Page{{Number: 1, Text: text}}}, k.chunkSize)
	vectors, err := k.EmbedChunks(ctx, chunks)
	return chunks, vectors, err
}

func (k *keywordEmbedder) EmbedChunks(_ context.Context, chunks []models.Chunk) ([][]float32, error) {
	if k.fail {
		return nil, errors.New("embedding service down")
	}
	out := make([][]float32, len(chunks))
	for i, c := range chunks {
		out[i] = k.vector(c.Content)
	}
	return out, nil
}

func (k *keywordEmbedder) EmbedQuery(_ context.Context, q string) ([]float32, error) {
	if k.fail {
		return nil, errors.New("embedding service down")
	}
	return k.vector(q), nil
}

type recordingGenerator struct {
	question    string
	retrieved   string
	provider    string
	err         error
	unavailable error
	gemini      bool
}

func (g *recordingGenerator) GenerateAnswer(_ context.Context, question, retrieved, provider string) (*models.PromptResponse, error) {
	g.question, g.retrieved, g.provider = question, retrieved, provider
	if g.err != nil {
		return nil, g.err
	}
	return &models.PromptResponse{Query: question, Answer: "answer", TraceID: "trace", Provider: provider}, nil
}

func (g *recordingGenerator) Available(string) error { return g.unavailable }

func (g *recordingGenerator) HasGemini() bool { return g.gemini }

func newTestRAG(t *testing.T, chunkSize int) (*RAG, *chromemdb.VectorDBManager, *keywordEmbedder, *recordingGenerator) {
	t.Helper()
	store, err := chromemdb.NewVectorDBManager(config.ChromemConfig{InMemory: true, Collection: "test"})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	emb := &keywordEmbedder{chunkSize: chunkSize}
	gen := &recordingGenerator{}
	return NewRAG(store, emb, gen, chunkSize, 3), store, emb, gen
}

func TestAskIndexesContextAndRetrieves(t *testing.T) {
	r, store, _, gen := newTestRAG(t, 20)
	// one 20-rune window per sentence
	page := fmt.Sprintf("%-20s%-20s%-20s", "Solar output grew.", "Wind farms expanded.", "Coal plants closed.")

	res, err := r.Ask(context.Background(), AskRequest{
		Question: "  What happened to wind?  ",
		Context:  page,
		TopK:     1,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, store.Count())
	assert.Equal(t, "What happened to wind?", gen.question)
	assert.Equal(t, "answer", res.Answer)
	assert.Equal(t, "trace", res.TraceID)
	require.Len(t, res.Sources, 1)
	assert.Contains(t, strings.ToLower(res.Sources[0].Text), "wind")
	assert.Equal(t, res.Sources[0].Text, gen.retrieved)

	docs := r.ListDocuments(context.Background())
	require.Len(t, docs, 1)
	assert.Equal(t, KindPage, docs[0].Kind)
	assert.Equal(t, 3, docs[0].Chunks)
	assert.Equal(t, docs[0].ID, res.Sources[0].Source)
}

func TestAskJoinsSourcesWithBlankLines(t *testing.T) {
	r, _, _, gen := newTestRAG(t, 1000)
	_, err := r.Ask(context.Background(), AskRequest{Question: "solar", Context: "solar one"})
	require.NoError(t, err)
	_, err = r.Ask(context.Background(), AskRequest{Question: "solar", Context: "solar two"})
	require.NoError(t, err)

	parts := strings.Split(gen.retrieved, "\n\n")
	assert.Len(t, parts, 2)
	assert.ElementsMatch(t, []string{"solar one", "solar two"}, parts)
}

func TestAskWithoutContextUsesStoredDocuments(t *testing.T) {
	r, _, _, gen := newTestRAG(t, 1000)
	_, err := r.Upload(context.Background(), "energy.txt", []byte("Coal is declining."))
	require.NoError(t, err)

	res, err := r.Ask(context.Background(), AskRequest{Question: "coal?", Provider: models.ProviderGemini})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGemini, gen.provider)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "Coal is declining.", res.Sources[0].Text)
}

func TestAskEmptyCollection(t *testing.T) {
	r, _, _, gen := newTestRAG(t, 1000)
	res, err := r.Ask(context.Background(), AskRequest{Question: "anything?"})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Equal(t, "", gen.retrieved)
}

func TestAskErrors(t *testing.T) {
	r, _, emb, gen := newTestRAG(t, 1000)

	_, err := r.Ask(context.Background(), AskRequest{Question: "   "})
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)

	emb.fail = true
	_, err = r.Ask(context.Background(), AskRequest{Question: "q", Context: "solar"})
	assert.ErrorContains(t, err, "embedding service down")
	assert.Empty(t, r.ListDocuments(context.Background()), "failed indexing must not register a document")

	emb.fail = false
	gen.err = models.ErrProviderUnavailable
	_, err = r.Ask(context.Background(), AskRequest{Question: "q"})
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestAskUnavailableProviderStoresNothing(t *testing.T) {
	r, store, _, gen := newTestRAG(t, 1000)
	gen.unavailable = fmt.Errorf("%w: friendliai", models.ErrProviderUnavailable)

	_, err := r.Ask(context.Background(), AskRequest{Question: "q", Context: "solar farms", Provider: models.ProviderGemini})
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.Zero(t, store.Count())
	assert.Empty(t, r.ListDocuments(context.Background()))
	assert.Empty(t, gen.question, "the model must not be called")
}

func TestUpload(t *testing.T) {
	r, store, _, _ := newTestRAG(t, 10)

	res, err := r.Upload(context.Background(), "notes.txt", []byte("solar panels and wind turbines"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", res.Filename)
	assert.Equal(t, 1, res.PagesProcessed)
	assert.Equal(t, 3, res.ChunksCreated)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, 3, store.Count())

	_, err = r.Upload(context.Background(), "empty.txt", []byte("  "))
	assert.ErrorIs(t, err, models.ErrEmptyContent)

	_, err = r.Upload(context.Background(), "photo.jpg", []byte("x"))
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestReindexReplacesChunks(t *testing.T) {
	r, store, emb, _ := newTestRAG(t, 10)
	ctx := context.Background()
	const id = "2f1e0a57-5d0c-5f38-9a57-0c1e2d3b4a59"

	for i := 0; i < 3; i++ {
		res, err := r.Reindex(ctx, id, "notes.txt", []byte("solar panels and wind turbines"))
		require.NoError(t, err)
		assert.Equal(t, id, res.DocumentID)
		assert.Equal(t, 3, res.ChunksCreated)
		assert.Equal(t, 3, store.Count())
	}
	require.Len(t, r.ListDocuments(ctx), 1)

	_, err := r.Reindex(ctx, id, "notes.txt", []byte("coal"))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())

	emb.fail = true
	_, err = r.Reindex(ctx, id, "notes.txt", []byte("wind"))
	assert.Error(t, err)
	assert.Equal(t, 1, store.Count(), "a failed reindex keeps the previous chunks")
}

func TestDeleteDocument(t *testing.T) {
	r, store, _, _ := newTestRAG(t, 1000)
	a, err := r.Upload(context.Background(), "a.txt", []byte("solar"))
	require.NoError(t, err)
	b, err := r.Upload(context.Background(), "b.txt", []byte("wind"))
	require.NoError(t, err)

	require.NoError(t, r.DeleteDocument(context.Background(), a.DocumentID))
	assert.Equal(t, 1, store.Count())

	docs := r.ListDocuments(context.Background())
	require.Len(t, docs, 1)
	assert.Equal(t, b.DocumentID, docs[0].ID)

	err = r.DeleteDocument(context.Background(), a.DocumentID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestHealth(t *testing.T) {
	r, store, _, gen := newTestRAG(t, 1000)
	gen.gemini = true

	h := r.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	for _, key := range []string{"llamaindex", "weaviate", "friendliai"} {
		assert.Equal(t, "connected", h.Components[key], key)
	}
	assert.Equal(t, "connected", h.Components[config.StoreChromem])
	assert.Equal(t, "configured", h.Components["gemini"])

	require.NoError(t, store.DeleteCollection())
	h = r.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.Components["weaviate"], "error:")
	assert.Contains(t, h.Components[config.StoreChromem], "error:")
	assert.Equal(t, "connected", h.Components["friendliai"])
}
