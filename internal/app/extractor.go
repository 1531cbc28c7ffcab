package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxzi/gridline/internal/cache"
	"github.com/foxzi/gridline/internal/config"
	"github.com/foxzi/gridline/internal/extract"
	"github.com/foxzi/gridline/internal/llm"
	"github.com/foxzi/gridline/internal/prompt"
)

// NewExtractor builds the model backend, prompt set and response cache and
// returns an extractor saving to saver (nil keeps batches out of history).
// The returned func releases the cache connection.
func NewExtractor(ctx context.Context, cfg *config.Config, saver extract.Saver, logger *slog.Logger) (*extract.Extractor, func(), error) {
	gen, err := llm.New(ctx, llm.Config{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		Temperature:       cfg.LLM.Temperature,
		MaxOutputTokens:   cfg.LLM.MaxOutputTokens,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	logger.Info("llm backend ready", "generator", gen.Name())

	var (
		responses cache.Cache = cache.Nop{}
		closer                = func() {}
	)
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedis(ctx, cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			// the cache only saves model calls, runs work without it
			logger.Warn("response cache unavailable", "addr", cfg.Cache.Addr, "error", err)
		} else {
			responses = rc
			closer = func() {
				if err := rc.Close(); err != nil {
					logger.Warn("failed to close response cache", "error", err)
				}
			}
			logger.Info("response cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
		}
	}

	prompts := prompt.Load(prompt.Overrides{
		ProjectsPath: cfg.LLM.Prompts.Projects,
		ContactsPath: cfg.LLM.Prompts.Contacts,
	}, logger)

	ex, err := extract.New(extract.Config{
		Generator: gen,
		Prompts:   prompts,
		Cache:     responses,
		Saver:     saver,
		Logger:    logger,
	})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return ex, closer, nil
}
