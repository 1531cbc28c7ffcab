package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-3-pro-preview"

// GeminiConfig configures the Gemini backend
type GeminiConfig struct {
	APIKey          string
	Model           string
	BaseURL         string // overrides the API endpoint, used by tests
	Temperature     *float32
	MaxOutputTokens int32
}

// GeminiClient implements Generator on the Gemini API
type GeminiClient struct {
	client          *genai.Client
	model           string
	temperature     *float32
	maxOutputTokens int32
}

// NewGeminiClient creates a Gemini backend
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:          client,
		model:           model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
	}, nil
}

// Generate runs one generateContent call
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       c.temperature,
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if c.maxOutputTokens > 0 {
		config.MaxOutputTokens = c.maxOutputTokens
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.User, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Name returns gemini:<model>
func (c *GeminiClient) Name() string {
	return "gemini:" + c.model
}
