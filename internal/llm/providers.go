package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider represents an AI provider type
type Provider string

const (
	// ProviderOpenAI covers every OpenAI-compatible endpoint (Groq, OpenRouter, vLLM).
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// normalizeProvider accepts the aliases used in configuration files.
func normalizeProvider(p string) Provider {
	switch p {
	case "anthropic":
		return ProviderClaude
	case "googleai", "google":
		return ProviderGemini
	}
	return Provider(p)
}

// newModel creates the langchaingo model for the configured provider
func newModel(ctx context.Context, opts Options) (llms.Model, error) {
	log.Debug().
		Str("provider", string(opts.Provider)).
		Str("model", opts.Model).
		Str("base_url", opts.BaseURL).
		Float64("temperature", opts.Temperature).
		Msg("Creating LLM model")

	switch opts.Provider {
	case ProviderOpenAI:
		return createOpenAIModel(opts)
	case ProviderGemini:
		return createGeminiModel(ctx, opts)
	case ProviderClaude:
		return createAnthropicModel(opts)
	case ProviderOllama:
		return createOllamaModel(opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
}

func createOpenAIModel(opts Options) (llms.Model, error) {
	options := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	}
	if opts.BaseURL != "" {
		options = append(options, openai.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		options = append(options, openai.WithHTTPClient(opts.HTTPClient))
	}
	return openai.New(options...)
}

func createGeminiModel(ctx context.Context, opts Options) (llms.Model, error) {
	options := []googleai.Option{
		googleai.WithAPIKey(opts.APIKey),
		googleai.WithDefaultModel(opts.Model),
	}
	model, err := googleai.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}
	return model, nil
}

func createAnthropicModel(opts Options) (llms.Model, error) {
	options := []anthropic.Option{
		anthropic.WithToken(opts.APIKey),
		anthropic.WithModel(opts.Model),
	}
	if opts.BaseURL != "" {
		options = append(options, anthropic.WithBaseURL(opts.BaseURL))
	}
	return anthropic.New(options...)
}

func createOllamaModel(opts Options) (llms.Model, error) {
	serverURL := opts.BaseURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(opts.Model),
	)
}
