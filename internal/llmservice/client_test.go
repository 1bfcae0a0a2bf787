package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"screenpilot/internal/config"
	"screenpilot/internal/models"
)

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
	empty    bool
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestQueryModelFriendli(t *testing.T) {
	friendli := &fakeModel{reply: "42"}
	c := NewWithModels(friendli, nil, Options{})

	out, err := c.QueryModel(context.Background(), "what?", models.ProviderFriendli)
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	require.Len(t, friendli.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, friendli.messages[0].Role)
	assert.Equal(t, models.SystemPrompt, textOf(t, friendli.messages[0]))
	assert.Equal(t, "what?", textOf(t, friendli.messages[1]))
	assert.Equal(t, config.DefaultCompletionModel, friendli.opts.Model)
	assert.Equal(t, 0.4, friendli.opts.Temperature)
}

func TestQueryModelGemini(t *testing.T) {
	friendli := &fakeModel{reply: "friendli"}
	gemini := &fakeModel{reply: "gemini"}
	c := NewWithModels(friendli, gemini, Options{})
	assert.True(t, c.HasGemini())

	out, err := c.QueryModel(context.Background(), "what?", models.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "gemini", out)
	assert.Nil(t, friendli.messages)
	require.Len(t, gemini.messages, 1)
	assert.Equal(t, config.DefaultGeminiModel, gemini.opts.Model)
}

func TestQueryModelGeminiFallsBackToFriendli(t *testing.T) {
	friendli := &fakeModel{reply: "friendli"}
	c := NewWithModels(friendli, nil, Options{})
	assert.False(t, c.HasGemini())
	require.NoError(t, c.Available(models.ProviderGemini))

	out, err := c.QueryModel(context.Background(), "what?", models.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, "friendli", out)
	require.Len(t, friendli.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, friendli.messages[0].Role)

	res, err := c.GenerateAnswer(context.Background(), "q", "", models.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderFriendli, res.Provider)
}

func TestAvailable(t *testing.T) {
	none := NewWithModels(nil, nil, Options{})
	assert.ErrorIs(t, none.Available(models.ProviderFriendli), models.ErrProviderUnavailable)
	assert.ErrorIs(t, none.Available(models.ProviderGemini), models.ErrProviderUnavailable)
	_, err := none.QueryModel(context.Background(), "p", models.ProviderGemini)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)

	geminiOnly := NewWithModels(nil, &fakeModel{reply: "g"}, Options{})
	assert.NoError(t, geminiOnly.Available(models.ProviderGemini))
	assert.ErrorIs(t, geminiOnly.Available(models.ProviderFriendli), models.ErrProviderUnavailable)
}

func TestQueryModelErrors(t *testing.T) {
	c := NewWithModels(&fakeModel{err: errors.New("boom")}, nil, Options{})
	_, err := c.QueryModel(context.Background(), "p", models.ProviderFriendli)
	assert.ErrorContains(t, err, "friendliai API error: boom")

	c = NewWithModels(&fakeModel{}, &fakeModel{empty: true}, Options{})
	_, err = c.QueryModel(context.Background(), "p", models.ProviderGemini)
	assert.ErrorContains(t, err, "no choices")
}

func TestGenerateAnswer(t *testing.T) {
	friendli := &fakeModel{reply: "The answer."}
	temperature := 0.1
	c := NewWithModels(friendli, nil, Options{Model: "custom", Temperature: &temperature})

	res, err := c.GenerateAnswer(context.Background(), "Who won?", "chunk one\n\nchunk two", "")
	require.NoError(t, err)

	assert.Equal(t, "The answer.", res.Answer)
	assert.Equal(t, models.ProviderFriendli, res.Provider)
	_, err = uuid.Parse(res.TraceID)
	assert.NoError(t, err)

	prompt := textOf(t, friendli.messages[1])
	assert.Contains(t, prompt, `question: "Who won?"`)
	assert.Contains(t, prompt, "chunk one\n\nchunk two")
	assert.Equal(t, "custom", friendli.opts.Model)
	assert.Equal(t, 0.1, friendli.opts.Temperature)

	other, err := c.GenerateAnswer(context.Background(), "Who won?", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, res.TraceID, other.TraceID)
}

func TestZeroTemperature(t *testing.T) {
	friendli := &fakeModel{reply: "ok"}
	zero := 0.0
	c := NewWithModels(friendli, nil, Options{Temperature: &zero})

	_, err := c.QueryModel(context.Background(), "p", models.ProviderFriendli)
	require.NoError(t, err)
	assert.Zero(t, friendli.opts.Temperature)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.Default(), nil)
	assert.Error(t, err)
}

func TestNewClientAgainstOpenAICompatibleServer(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   config.DefaultCompletionModel,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "served"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Friendli.APIKey = "secret"
	cfg.Friendli.Endpoint = srv.URL

	c, err := NewClient(context.Background(), cfg, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, c.BaseURL())
	assert.False(t, c.HasGemini())

	out, err := c.QueryModel(context.Background(), "hi", models.ProviderFriendli)
	require.NoError(t, err)
	assert.Equal(t, "served", out)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
}
