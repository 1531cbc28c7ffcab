package llm

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures a backend
type Config struct {
	Provider          string // gemini or anthropic
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       *float64
	MaxOutputTokens   int
	Timeout           time.Duration
	RequestsPerMinute int
}

// New creates the configured backend wrapped in a Throttled limiter
func New(ctx context.Context, cfg Config) (Generator, error) {
	var (
		gen Generator
		err error
	)

	switch cfg.Provider {
	case "", "gemini":
		gc := GeminiConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			BaseURL:         cfg.BaseURL,
			MaxOutputTokens: int32(cfg.MaxOutputTokens),
		}
		if cfg.Temperature != nil {
			t := float32(*cfg.Temperature)
			gc.Temperature = &t
		}
		gen, err = NewGeminiClient(ctx, gc)
	case "anthropic":
		ac := AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxOutputTokens,
		}
		if cfg.Temperature != nil {
			ac.Temperature = *cfg.Temperature
		}
		gen, err = NewAnthropicClient(ac)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewThrottled(gen, cfg.RequestsPerMinute, cfg.Timeout), nil
}
