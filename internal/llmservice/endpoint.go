package llmservice

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"screenpilot/internal/config"
)

const checkTimeout = 5 * time.Second

// ResolveBaseURL picks the Friendli base URL to talk to. A configured
// dedicated endpoint is used only if a GET against it answers 200; an empty
// endpoint, any other status or a transport error selects the serverless API.
// Nothing is cached between calls.
func ResolveBaseURL(ctx context.Context, client *http.Client, endpoint, apiKey string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		log.Info().Str("base_url", config.DefaultFriendliBaseURL).Msg("No dedicated endpoint configured, using serverless API")
		return config.DefaultFriendliBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: checkTimeout}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("Invalid dedicated endpoint, falling back to serverless API")
		return config.DefaultFriendliBaseURL
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("Dedicated endpoint unreachable, falling back to serverless API")
		return config.DefaultFriendliBaseURL
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("Dedicated endpoint unhealthy, falling back to serverless API")
		return config.DefaultFriendliBaseURL
	}
	log.Info().Str("base_url", endpoint).Msg("Using dedicated endpoint")
	return endpoint
}

// chatBaseURL turns a resolved base URL into the prefix the OpenAI-compatible
// client appends /chat/completions to.
func chatBaseURL(base string) string {
	base = strings.TrimSuffix(base, "/chat/completions")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}
