// Package llm is the single entry point the agent roles use to talk to a
// language model: one system prompt, one user prompt, text back.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/autodev/internal/config"
	"github.com/autodev/internal/retry"
)

// DefaultOpenAIBaseURL is used for the openai provider when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"

// ErrEmptyResponse is returned when the model answers with no choices.
var ErrEmptyResponse = errors.New("empty response from model")

// Generator is what the agent roles depend on.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options configures a Gateway.
type Options struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

// OptionsFromConfig maps the llm config section onto gateway options.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	opts := Options{
		Provider:    normalizeProvider(cfg.Provider),
		APIKey:      cfg.APIKey.Value(),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
	}
	if opts.Provider == ProviderOpenAI && opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenAIBaseURL
	}
	return opts
}

// Gateway sends chat requests to a langchaingo model. Rate-limit failures are
// retried with exponential backoff; every other error is returned immediately.
type Gateway struct {
	model  llms.Model
	opts   Options
	policy retry.Policy
	logger *zerolog.Logger
}

// New creates a Gateway for the configured provider.
func New(ctx context.Context, opts Options) (*Gateway, error) {
	model, err := newModel(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", opts.Provider, err)
	}
	return NewWithModel(model, opts), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, opts Options) *Gateway {
	policy := retry.RateLimitPolicy(opts.MaxRetries)
	policy.ShouldRetry = IsRateLimited
	return &Gateway{
		model:  model,
		opts:   opts,
		policy: policy,
		logger: &log.Logger,
	}
}

// WithRetryPolicy replaces the backoff policy; the rate-limit predicate is kept
// when the new policy does not set one.
func (g *Gateway) WithRetryPolicy(policy retry.Policy) *Gateway {
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = IsRateLimited
	}
	g.policy = policy
	return g
}

// WithLogger sets the logger used for retry diagnostics.
func (g *Gateway) WithLogger(logger *zerolog.Logger) *Gateway {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	return g.opts.Model
}

// Generate sends one system and one user message and returns the text of the first choice.
func (g *Gateway) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	callOptions := []llms.CallOption{
		llms.WithTemperature(g.opts.Temperature),
	}
	if g.opts.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(g.opts.MaxTokens))
	}
	if g.opts.Provider == ProviderGemini && g.opts.Model != "" {
		callOptions = append(callOptions, llms.WithModel(g.opts.Model))
	}

	var text string
	result := retry.Do(ctx, g.policy, func() error {
		resp, err := g.model.GenerateContent(ctx, messages, callOptions...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		text = resp.Choices[0].Content
		return nil
	}, g.logger)

	if !result.Success {
		return "", fmt.Errorf("llm request failed after %d attempt(s): %w", result.Attempts, result.LastError)
	}
	return text, nil
}

// IsRateLimited reports whether err is a provider throttling error.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if llms.IsRateLimitError(err) {
		return true
	}
	return retry.IsRateLimitError(err)
}
