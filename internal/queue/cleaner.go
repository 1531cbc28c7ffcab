package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner deletes finished jobs older than maxAge; BoltStorage implements it
type Pruner interface {
	CleanupFinished(ctx context.Context, maxAge time.Duration) (int, error)
}

// CleanerConfig contains cleanup settings
type CleanerConfig struct {
	MaxAge   time.Duration // retention of done and failed jobs, 0 keeps them
	Interval time.Duration
}

// Cleaner periodically prunes finished jobs. Their batches live in history
// and are not touched.
type Cleaner struct {
	pruner Pruner
	cfg    CleanerConfig
	logger *slog.Logger

	wg   sync.WaitGroup
	once sync.Once
	done chan struct{}
}

// NewCleaner creates a cleaner
func NewCleaner(p Pruner, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		pruner: p,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start prunes once and then every Interval until ctx ends or Stop is called
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.MaxAge <= 0 || c.cfg.Interval <= 0 {
		c.logger.Info("job cleanup disabled")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		for {
			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Error("failed to clean up finished jobs", "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
			}
		}
	}()

	c.logger.Info("cleaner started", "retention", c.cfg.MaxAge, "interval", c.cfg.Interval)
}

// RunOnce prunes finished jobs older than MaxAge and returns how many went
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	deleted, err := c.pruner.CleanupFinished(ctx, c.cfg.MaxAge)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		c.logger.Info("cleaned up finished jobs", "deleted", deleted)
	}
	return deleted, nil
}

// Stop stops the cleaner and waits for the goroutine to finish
func (c *Cleaner) Stop() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}
