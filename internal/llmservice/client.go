package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"screenpilot/internal/config"
	"screenpilot/internal/helper"
	"screenpilot/internal/models"
)

// Client generates answers with Friendli, or Gemini when asked and configured.
type Client struct {
	friendli    llms.Model
	gemini      llms.Model
	model       string
	geminiModel string
	temperature float64
	baseURL     string
}

type Options struct {
	Model       string
	GeminiModel string
	// Temperature nil means DefaultTemperature; zero is honoured.
	Temperature *float64
	BaseURL     string
}

// NewClient resolves the Friendli endpoint once and builds both model clients.
func NewClient(ctx context.Context, cfg *config.Config, checker *http.Client) (*Client, error) {
	if cfg.Friendli.APIKey == "" {
		return nil, errors.New("FRIENDLIAI_API_KEY environment variable is required")
	}
	baseURL := ResolveBaseURL(ctx, checker, cfg.Friendli.Endpoint, cfg.Friendli.APIKey)

	friendli, err := openai.New(
		openai.WithBaseURL(chatBaseURL(baseURL)),
		openai.WithToken(strings.TrimPrefix(cfg.Friendli.APIKey, "Bearer ")),
		openai.WithModel(cfg.Friendli.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Friendli.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize friendli client: %w", err)
	}

	var gemini llms.Model
	if cfg.Gemini.APIKey != "" {
		gemini, err = openai.New(
			openai.WithBaseURL(cfg.Gemini.BaseURL),
			openai.WithToken(cfg.Gemini.APIKey),
			openai.WithModel(cfg.Gemini.Model),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.Gemini.Timeout}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
		}
	}

	return NewWithModels(friendli, gemini, Options{
		Model:       cfg.Friendli.Model,
		GeminiModel: cfg.Gemini.Model,
		Temperature: &cfg.Friendli.Temperature,
		BaseURL:     baseURL,
	}), nil
}

// NewWithModels wires already constructed models. gemini may be nil.
func NewWithModels(friendli, gemini llms.Model, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = config.DefaultCompletionModel
	}
	if opts.GeminiModel == "" {
		opts.GeminiModel = config.DefaultGeminiModel
	}
	temperature := config.DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return &Client{
		friendli:    friendli,
		gemini:      gemini,
		model:       opts.Model,
		geminiModel: opts.GeminiModel,
		temperature: temperature,
		baseURL:     opts.BaseURL,
	}
}

// BaseURL is the Friendli endpoint chosen at construction.
func (c *Client) BaseURL() string { return c.baseURL }

// HasGemini reports whether the Gemini provider can be used.
func (c *Client) HasGemini() bool { return c.gemini != nil }

// effectiveProvider maps the requested provider onto one that is configured.
// Gemini without a key falls back to FriendliAI.
func (c *Client) effectiveProvider(requested string) string {
	if requested == models.ProviderGemini {
		if c.gemini != nil {
			return models.ProviderGemini
		}
		log.Warn().Msg("GEMINI_API_KEY is not set, answering with FriendliAI")
	}
	return models.ProviderFriendli
}

// Available reports whether a request for provider can be answered.
func (c *Client) Available(provider string) error {
	if provider == models.ProviderGemini && c.gemini != nil {
		return nil
	}
	if c.friendli == nil {
		return fmt.Errorf("%w: friendliai", models.ErrProviderUnavailable)
	}
	return nil
}

// QueryModel sends prompt to the selected provider and returns the reply text.
func (c *Client) QueryModel(ctx context.Context, prompt, provider string) (string, error) {
	if err := c.Available(provider); err != nil {
		return "", err
	}
	if c.effectiveProvider(provider) == models.ProviderGemini {
		messages := []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		}
		res, err := GenerateContent(ctx, c.gemini, messages, llms.WithModel(c.geminiModel))
		if err != nil {
			return "", fmt.Errorf("gemini API error: %w", err)
		}
		return res, nil
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := GenerateContent(ctx, c.friendli, messages,
		llms.WithModel(c.model),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("friendliai API error: %w", err)
	}
	return res, nil
}

// GenerateAnswer builds the analytical prompt from the question and the
// retrieved context and tags the reply with a fresh trace id.
func (c *Client) GenerateAnswer(ctx context.Context, question, retrieved, provider string) (*models.PromptResponse, error) {
	if err := c.Available(provider); err != nil {
		return nil, err
	}
	provider = c.effectiveProvider(provider)
	prompt := fmt.Sprintf(models.AnswerPromptTemplate, question, retrieved)

	answer, err := c.QueryModel(ctx, prompt, provider)
	if err != nil {
		log.Error().Err(err).Str("provider", provider).Msg("Error generating answer")
		return nil, err
	}

	traceID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	log.Info().Str("trace_id", traceID).Str("provider", provider).Msg("Generated analytical answer")

	return &models.PromptResponse{
		Query:    question,
		Answer:   answer,
		TraceID:  traceID,
		Provider: provider,
	}, nil
}

// GenerateContent calls llm and returns the first choice.
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	res, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		return "", errors.New("no choices in model response")
	}
	return res.Choices[0].Content, nil
}
