package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/autodev/internal/config"
	"github.com/autodev/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// scriptedModel returns the queued errors first, then the reply.
type scriptedModel struct {
	errs     []error
	reply    string
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestGenerateWithFakeModel(t *testing.T) {
	g := NewWithModel(fake.NewFakeLLM([]string{"<FILE path=\"a.py\">\nx\n</FILE>"}), Options{Model: "fake"})

	out, err := g.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Contains(t, out, `<FILE path="a.py">`)
	assert.Equal(t, "fake", g.Model())
}

func TestGenerateSendsSystemAndUserMessages(t *testing.T) {
	m := &scriptedModel{reply: "LGTM"}
	g := NewWithModel(m, Options{Temperature: 0.1, MaxTokens: 512})

	out, err := g.Generate(context.Background(), "be strict", "CHANGES TO REVIEW:\n...")
	require.NoError(t, err)
	assert.Equal(t, "LGTM", out)

	require.Len(t, m.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: "be strict"}, m.messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
	assert.InDelta(t, 0.1, m.opts.Temperature, 1e-9)
	assert.Equal(t, 512, m.opts.MaxTokens)
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	m := &scriptedModel{
		errs: []error{
			llms.NewError(llms.ErrCodeRateLimit, "openai", "slow down"),
			errors.New("API returned unexpected status code: 429"),
		},
		reply: "done",
	}
	g := NewWithModel(m, Options{}).WithRetryPolicy(fastRetry())

	out, err := g.Generate(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, m.calls)
}

func TestGenerateFailsFastOnOtherErrors(t *testing.T) {
	m := &scriptedModel{errs: []error{errors.New("API returned unexpected status code: 401: invalid key")}}
	g := NewWithModel(m, Options{}).WithRetryPolicy(fastRetry())

	_, err := g.Generate(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, 1, m.calls)
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	rl := errors.New("rate limit exceeded")
	m := &scriptedModel{errs: []error{rl, rl, rl, rl, rl}}
	g := NewWithModel(m, Options{}).WithRetryPolicy(fastRetry())

	_, err := g.Generate(context.Background(), "s", "u")
	require.ErrorIs(t, err, rl)
	assert.Equal(t, 4, m.calls)
}

func TestGenerateOpenAICompatibleEndpoint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string            `json:"model"`
			Messages []json.RawMessage `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama-3.3-70b-versatile", body.Model)
		assert.Len(t, body.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "llama-3.3-70b-versatile",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "LGTM"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	opts := OptionsFromConfig(config.LLMConfig{
		Provider:    "openai",
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Model:       "llama-3.3-70b-versatile",
		Temperature: 0.1,
		MaxRetries:  2,
	})
	g, err := New(context.Background(), opts)
	require.NoError(t, err)
	g.WithRetryPolicy(fastRetry())

	out, err := g.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "LGTM", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.LLMConfig{Provider: "openai", Model: "m"})
	assert.Equal(t, DefaultOpenAIBaseURL, opts.BaseURL)

	opts = OptionsFromConfig(config.LLMConfig{Provider: "anthropic", Model: "m"})
	assert.Equal(t, ProviderClaude, opts.Provider)
	assert.Empty(t, opts.BaseURL)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "mystery"})
	require.Error(t, err)
}
