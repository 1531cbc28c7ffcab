// Package ratelimit bounds how many extraction runs are accepted per hour
// and per day, globally and per client.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal Level = "global"
	LevelIP     Level = "ip"
	LevelAPIKey Level = "api_key"
)

// Config contains rate limit configuration
type Config struct {
	Global        *LimitConfig            `yaml:"global,omitempty"`
	DefaultIP     *LimitConfig            `yaml:"default_ip,omitempty"`
	DefaultAPIKey *LimitConfig            `yaml:"default_api_key,omitempty"`
	APIKeys       map[string]*LimitConfig `yaml:"api_keys,omitempty"` // overrides keyed by API key
	FlushInterval time.Duration           `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains rate limit values; zero means unlimited
type LimitConfig struct {
	RunsPerHour int `yaml:"runs_per_hour" json:"runs_per_hour"`
	RunsPerDay  int `yaml:"runs_per_day" json:"runs_per_day"`
}

// Counter tracks one key's usage in the current windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// windowed returns the counts that still apply at now
func (c *Counter) windowed(now time.Time) (hourly, daily int) {
	hourly, daily = c.HourlyCount, c.DailyCount
	if now.Sub(c.HourStart) >= time.Hour {
		hourly = 0
	}
	if now.Sub(c.DayStart) >= 24*time.Hour {
		daily = 0
	}
	return hourly, daily
}

// Request identifies who is asking for a run
type Request struct {
	IP     string
	APIKey string
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	RetryAfter time.Duration
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level     `json:"level"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter implements rate limiting with multiple levels
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	mu       sync.RWMutex
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLimiter creates a new rate limiter
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	l.wg.Add(1)
	go l.persistLoop()

	return l, nil
}

// Allow checks every applicable limit and, when all pass, counts the run
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	if res := l.evaluate(checks, now); !res.Allowed {
		return res, nil
	}

	for _, check := range checks {
		counter, ok := l.counters[check.key]
		if !ok {
			counter = &Counter{HourStart: now, DayStart: now}
			l.counters[check.key] = counter
		}
		if now.Sub(counter.HourStart) >= time.Hour {
			counter.HourlyCount = 0
			counter.HourStart = now
		}
		if now.Sub(counter.DayStart) >= 24*time.Hour {
			counter.DailyCount = 0
			counter.DayStart = now
		}
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}, nil
}

// Check reports whether a run would be allowed without counting it
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.evaluate(l.getChecks(req), l.now()), nil
}

func (l *Limiter) evaluate(checks []limitCheck, now time.Time) *Result {
	for _, check := range checks {
		counter, ok := l.counters[check.key]
		if !ok {
			continue
		}
		hourly, daily := counter.windowed(now)

		if check.limit.RunsPerHour > 0 && hourly >= check.limit.RunsPerHour {
			return &Result{
				DeniedBy:   check.level,
				RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
			}
		}
		if check.limit.RunsPerDay > 0 && daily >= check.limit.RunsPerDay {
			return &Result{
				DeniedBy:   check.level,
				RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
			}
		}
	}
	return &Result{Allowed: true}
}

// GetStats returns the current usage of one key. API keys are looked up
// by their plain value.
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{Level: level}
	counter, ok := l.counters[makeKey(level, key)]
	if !ok {
		return stats, nil
	}

	stats.HourlyCount, stats.DailyCount = counter.windowed(l.now())
	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart
	return stats, nil
}

// LimitFor returns the limit applied to key at level, nil when unlimited
func (l *Limiter) LimitFor(level Level, key string) *LimitConfig {
	switch level {
	case LevelGlobal:
		return l.config.Global
	case LevelIP:
		return l.config.DefaultIP
	case LevelAPIKey:
		if override, ok := l.config.APIKeys[key]; ok {
			return override
		}
		return l.config.DefaultAPIKey
	}
	return nil
}

// Stop stops the rate limiter and persists counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{LevelGlobal, makeKey(LevelGlobal, "global"), l.config.Global})
	}

	if req.IP != "" && l.config.DefaultIP != nil {
		checks = append(checks, limitCheck{LevelIP, makeKey(LevelIP, req.IP), l.config.DefaultIP})
	}

	if req.APIKey != "" {
		limit := l.config.DefaultAPIKey
		if override, ok := l.config.APIKeys[req.APIKey]; ok {
			limit = override
		}
		if limit != nil {
			checks = append(checks, limitCheck{LevelAPIKey, makeKey(LevelAPIKey, req.APIKey), limit})
		}
	}

	return checks
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRateLimits).ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

// makeKey builds the counter key; API keys are stored as a hash
func makeKey(level Level, key string) string {
	if level == LevelAPIKey {
		sum := sha256.Sum256([]byte(key))
		key = hex.EncodeToString(sum[:8])
	}
	return string(level) + ":" + key
}
