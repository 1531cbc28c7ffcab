package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

const (
	// DefaultAnthropicModel is used when no model is configured
	DefaultAnthropicModel = "claude-sonnet-4-20250514"

	defaultAnthropicMaxTokens = 32000
)

// AnthropicConfig configures the Anthropic backend
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type promptFunc func(system, user, apiKey string, settings types.RequestSettings) (string, error)

func llmkitPrompt(system, user, apiKey string, settings types.RequestSettings) (string, error) {
	resp, err := anthropic.PromptWithSettings(system, user, "", apiKey, settings)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		b.WriteString(block.Text)
	}
	return b.String(), nil
}

// AnthropicClient implements Generator on the Anthropic messages API
type AnthropicClient struct {
	apiKey   string
	settings types.RequestSettings
	prompt   promptFunc
}

// NewAnthropicClient creates an Anthropic backend
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		apiKey: cfg.APIKey,
		settings: types.RequestSettings{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		},
		prompt: llmkitPrompt,
	}, nil
}

// Generate sends one message. llmkit calls are not context aware, so the
// call runs in a goroutine and is abandoned when ctx ends.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		text, err := c.prompt(req.System, req.User, c.apiKey, c.settings)
		if err != nil {
			done <- result{err: &ProviderError{Provider: "anthropic", Err: err, Temporary: temporaryMessage(err.Error())}}
			return
		}
		done <- result{text: text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	}
}

// Name returns anthropic:<model>
func (c *AnthropicClient) Name() string {
	return "anthropic:" + c.settings.Model
}
