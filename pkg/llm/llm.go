// Package llm adapts langchaingo chat models to the answer synthesizer's
// completion contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Default models per provider.
const (
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOllamaModel = "llama3.2"
)

// ReportPrefix marks system_report history turns sent as human messages.
const ReportPrefix = "FIELD REPORT: "

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Config selects and tunes a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string // gemini
	BaseURL     string // ollama
	Temperature float64
	MaxTokens   int
}

// Client is a CompletionProvider over any langchaingo model.
type Client struct {
	model    llms.Model
	name     string
	callOpts []llms.CallOption
}

// Wrap builds a Client around an existing model.
func Wrap(name string, model llms.Model, cfg Config) *Client {
	var opts []llms.CallOption
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	return &Client{model: model, name: name, callOpts: opts}
}

// New constructs the configured provider.
func New(ctx context.Context, cfg Config) (*Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderOllama:
		return NewOllama(cfg)
	default:
		return nil, &domain.ConfigError{Reason: fmt.Sprintf("unknown LLM_PROVIDER %q", cfg.Provider)}
	}
}

// NewGemini creates a Gemini-backed client.
func NewGemini(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &domain.ConfigError{Missing: []string{"GEMINI_API_KEY"}}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	g, err := googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("llm: gemini: %w", err)
	}
	return Wrap(ProviderGemini+"/"+model, g, cfg), nil
}

// NewOllama creates a client for a local Ollama chat model.
func NewOllama(cfg Config) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	o, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: ollama: %w", err)
	}
	return Wrap(ProviderOllama+"/"+model, o, cfg), nil
}

// Name identifies provider and model, e.g. "gemini/gemini-2.5-flash".
func (c *Client) Name() string { return c.name }

// Complete sends the history followed by the grounded prompt and returns the
// first choice's text.
func (c *Client) Complete(ctx context.Context, prompt string, history []domain.Turn) (string, error) {
	msgs := Messages(prompt, history)
	resp, err := c.model.GenerateContent(ctx, msgs, c.callOpts...)
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", c.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Content, nil
}

// Messages converts history plus the final prompt into chat messages.
func Messages(prompt string, history []domain.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case domain.RoleAssistant:
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, t.Content))
		case domain.RoleSystemReport:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, ReportPrefix+t.Content))
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, t.Content))
		}
	}
	return append(out, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}
