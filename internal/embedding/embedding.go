package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"screenpilot/internal/config"
	"screenpilot/internal/models"
	"screenpilot/internal/parser"
)

const (
	serverlessEmbeddingsURL = config.DefaultFriendliBaseURL + "/v1/embeddings"
	chatCompletionsSuffix   = "/chat/completions"
	embeddingsSuffix        = "/embeddings"
)

// Embedder chunks text and turns chunks and questions into vectors.
type Embedder struct {
	embedder  embeddings.Embedder
	chunkSize int
}

func New(embedder embeddings.Embedder, chunkSize int) *Embedder {
	return &Embedder{embedder: embedder, chunkSize: chunkSize}
}

// NewFromConfig builds the embedder selected by cfg.EmbedLLM.
func NewFromConfig(cfg *config.Config, httpClient *http.Client) (*Embedder, error) {
	var (
		impl *embeddings.EmbedderImpl
		err  error
	)
	switch cfg.EmbedLLM.Provider {
	case config.EmbedOllama:
		impl, err = NewOllamaEmbedder(&cfg.EmbedLLM)
	default:
		base := cfg.EmbedLLM.BaseURL
		if base == "" {
			base = EmbeddingBaseURL(cfg.Friendli.Endpoint)
		}
		impl, err = NewOpenAIEmbedder(cfg.EmbedLLM.Key, base, cfg.EmbedLLM.Model, httpClient)
	}
	if err != nil {
		return nil, err
	}
	return New(impl, cfg.RAG.ChunkSize), nil
}

// EmbeddingURL derives the embeddings URL from the configured Friendli
// endpoint. Paths on api.friendli.ai are reused with /chat/completions
// swapped for /embeddings, or /embeddings appended when neither is present.
// Other hosts and the bare api.friendli.ai host use the serverless API.
func EmbeddingURL(endpoint string) string {
	if !strings.HasPrefix(endpoint, config.DefaultFriendliBaseURL) {
		return serverlessEmbeddingsURL
	}
	endpoint = strings.TrimRight(endpoint, "/")
	switch {
	case strings.Contains(endpoint, chatCompletionsSuffix):
		return strings.ReplaceAll(endpoint, chatCompletionsSuffix, embeddingsSuffix)
	case strings.HasSuffix(endpoint, embeddingsSuffix):
		return endpoint
	case endpoint == config.DefaultFriendliBaseURL:
		return serverlessEmbeddingsURL
	default:
		return endpoint + embeddingsSuffix
	}
}

// EmbeddingBaseURL is EmbeddingURL without the /embeddings path, which is the
// form the OpenAI-compatible client expects.
func EmbeddingBaseURL(endpoint string) string {
	return strings.TrimSuffix(EmbeddingURL(endpoint), embeddingsSuffix)
}

// NewOpenAIEmbedder talks to any OpenAI-compatible embeddings API.
func NewOpenAIEmbedder(key, baseURL, embeddingModel string, httpClient *http.Client) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", baseURL).Str("embedding_model", embeddingModel).Msg("Creating embedder")

	opts := []openai.Option{
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(key, "Bearer ")),
		openai.WithModel(embeddingModel),
		openai.WithEmbeddingModel(embeddingModel),
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// NewOllamaEmbedder uses a local ollama server.
func NewOllamaEmbedder(llmConfig *config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("embedding_model", llmConfig.Model).Msg("Creating ollama embedder")

	opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// BuildIndex chunks the text and embeds every chunk. Any failure aborts the
// whole build.
func (e *Embedder) BuildIndex(ctx context.Context, text string) ([]models.Chunk, [][]float32, error) {
	chunks := parser.ParseToChunks(parser.Extracted{Pages: []parser.Page{{Number: 1, Text: text}}}, e.chunkSize)
	vectors, err := e.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, nil, err
	}
	return chunks, vectors, nil
}

// EmbedChunks embeds chunks one at a time.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	log.Info().Int("chunks", len(chunks)).Msg("Embedding chunks")
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := e.embedder.EmbedQuery(ctx, chunk.Content)
		if err != nil {
			log.Error().Err(err).Int("chunk", i).Msg("Error generating embedding")
			return nil, fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("embedding chunk %d: empty vector", i)
		}
		vectors = append(vectors, vec)
		log.Debug().Msgf("Generated embedding for chunk %d/%d", i+1, len(chunks))
	}
	return vectors, nil
}

// EmbedQuery embeds a question.
func (e *Embedder) EmbedQuery(ctx context.Context, question string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding question: empty vector")
	}
	return vec, nil
}
