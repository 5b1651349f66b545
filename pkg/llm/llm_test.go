package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

type fakeModel struct {
	resp *llms.ContentResponse
	err  error
	got  []llms.MessageContent
	opts llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = msgs
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func text(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	p, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return p.Text
}

func TestMessagesOrderAndRoles(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleSystemReport, Content: "River X bridge closed"},
		{Role: domain.RoleUser, Content: "Is the bridge open?"},
		{Role: domain.RoleAssistant, Content: "No, it is closed."},
	}
	msgs := Messages("PROMPT", history)
	require.Len(t, msgs, 4)

	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[0].Role)
	assert.Equal(t, ReportPrefix+"River X bridge closed", text(t, msgs[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, "PROMPT", text(t, msgs[3]))
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	fm := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Avoid Zoo Road."}, {Content: "ignored"}}}}
	c := Wrap("fake", fm, Config{Temperature: 0.2, MaxTokens: 512})

	got, err := c.Complete(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "Avoid Zoo Road.", got)
	assert.Len(t, fm.got, 1)
	assert.InDelta(t, 0.2, fm.opts.Temperature, 1e-9)
	assert.Equal(t, 512, fm.opts.MaxTokens)
	assert.Equal(t, "fake", c.Name())
}

func TestCompleteErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	_, err := Wrap("fake", &fakeModel{err: boom}, Config{}).Complete(context.Background(), "p", nil)
	assert.ErrorIs(t, err, boom)

	for _, resp := range []*llms.ContentResponse{nil, {}, {Choices: []*llms.ContentChoice{{Content: "  "}}}} {
		_, err := Wrap("fake", &fakeModel{resp: resp}, Config{}).Complete(context.Background(), "p", nil)
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "gemini"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"GEMINI_API_KEY"}, ce.Missing)

	_, err = New(context.Background(), Config{Provider: "openai"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNewOllama(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "OLLAMA", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "ollama/"+DefaultOllamaModel, c.Name())
}
