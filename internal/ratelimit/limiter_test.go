package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLimiter(t *testing.T, db *bolt.DB, cfg *Config) *Limiter {
	t.Helper()

	limiter, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })
	return limiter
}

func TestNewLimiterDefaultConfig(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), nil)

	if limiter.config.FlushInterval != 10*time.Second {
		t.Errorf("expected default FlushInterval=10s, got %v", limiter.config.FlushInterval)
	}

	// No limits configured means everything passes
	result, err := limiter.Allow(context.Background(), &Request{IP: "10.0.0.1", APIKey: "k"})
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !result.Allowed {
		t.Error("request should be allowed without limits")
	}
}

func TestAllowGlobalLimit(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{RunsPerHour: 3, RunsPerDay: 10},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	req := &Request{IP: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, req)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	result, err := limiter.Allow(ctx, &Request{IP: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if result.Allowed {
		t.Error("request 4 should be denied")
	}
	if result.DeniedBy != LevelGlobal {
		t.Errorf("expected DeniedBy=global, got %s", result.DeniedBy)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Hour {
		t.Errorf("unexpected RetryAfter %v", result.RetryAfter)
	}
}

func TestAllowIPLimit(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		DefaultIP:     &LimitConfig{RunsPerHour: 2},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	reqA := &Request{IP: "192.168.1.1"}
	for i := 0; i < 2; i++ {
		if result, _ := limiter.Allow(ctx, reqA); !result.Allowed {
			t.Errorf("ip A request %d should be allowed", i+1)
		}
	}
	result, _ := limiter.Allow(ctx, reqA)
	if result.Allowed || result.DeniedBy != LevelIP {
		t.Errorf("ip A request 3 should be denied by ip, got %+v", result)
	}

	if result, _ := limiter.Allow(ctx, &Request{IP: "192.168.1.2"}); !result.Allowed {
		t.Error("ip B should have its own counter")
	}

	// Requests without an IP skip the ip level
	if result, _ := limiter.Allow(ctx, &Request{}); !result.Allowed {
		t.Error("request without ip should be allowed")
	}
}

func TestAllowAPIKeyOverride(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		DefaultAPIKey: &LimitConfig{RunsPerHour: 1},
		APIKeys: map[string]*LimitConfig{
			"vip": {RunsPerHour: 3},
		},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()

	limiter.Allow(ctx, &Request{APIKey: "regular"})
	if result, _ := limiter.Allow(ctx, &Request{APIKey: "regular"}); result.Allowed || result.DeniedBy != LevelAPIKey {
		t.Errorf("second regular run should be denied by api_key, got %+v", result)
	}

	for i := 0; i < 3; i++ {
		if result, _ := limiter.Allow(ctx, &Request{APIKey: "vip"}); !result.Allowed {
			t.Errorf("vip request %d should be allowed", i+1)
		}
	}
	if result, _ := limiter.Allow(ctx, &Request{APIKey: "vip"}); result.Allowed {
		t.Error("vip request 4 should be denied")
	}
}

func TestAllowDailyLimitAndWindowReset(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{RunsPerHour: 2, RunsPerDay: 3},
		FlushInterval: time.Hour,
	})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	limiter.Allow(ctx, &Request{})
	limiter.Allow(ctx, &Request{})
	if result, _ := limiter.Allow(ctx, &Request{}); result.Allowed {
		t.Fatal("third run in the hour should be denied")
	}

	now = now.Add(61 * time.Minute)
	if result, _ := limiter.Allow(ctx, &Request{}); !result.Allowed {
		t.Fatal("hourly window should have reset")
	}

	result, _ := limiter.Allow(ctx, &Request{})
	if result.Allowed {
		t.Fatal("daily limit should deny the fourth run")
	}
	want := 24*time.Hour - 61*time.Minute
	if result.RetryAfter != want {
		t.Errorf("expected RetryAfter %v, got %v", want, result.RetryAfter)
	}

	now = now.Add(24 * time.Hour)
	if result, _ := limiter.Allow(ctx, &Request{}); !result.Allowed {
		t.Error("daily window should have reset")
	}
}

func TestCheckDoesNotCount(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{RunsPerHour: 1},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, &Request{})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("check %d should be allowed", i+1)
		}
	}

	limiter.Allow(ctx, &Request{})
	if result, _ := limiter.Check(ctx, &Request{}); result.Allowed {
		t.Error("check after the limit should be denied")
	}
}

func TestGetStats(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		DefaultAPIKey: &LimitConfig{RunsPerHour: 10},
		FlushInterval: time.Hour,
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, &Request{APIKey: "secret"})
	}

	stats, err := limiter.GetStats(ctx, LevelAPIKey, "secret")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.HourlyCount != 4 || stats.DailyCount != 4 {
		t.Errorf("expected 4/4, got %d/%d", stats.HourlyCount, stats.DailyCount)
	}

	stats, _ = limiter.GetStats(ctx, LevelIP, "unknown")
	if stats.HourlyCount != 0 {
		t.Errorf("expected empty stats, got %d", stats.HourlyCount)
	}
}

func TestPersistence(t *testing.T) {
	db := setupTestDB(t)
	cfg := &Config{
		DefaultIP:     &LimitConfig{RunsPerHour: 5},
		FlushInterval: time.Hour,
	}

	limiter, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, &Request{IP: "10.1.1.1"})
	}
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := limiter.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	restored := newTestLimiter(t, db, cfg)
	stats, _ := restored.GetStats(ctx, LevelIP, "10.1.1.1")
	if stats.HourlyCount != 3 {
		t.Errorf("expected 3 restored runs, got %d", stats.HourlyCount)
	}
}

func TestMakeKey(t *testing.T) {
	if got := makeKey(LevelIP, "10.0.0.1"); got != "ip:10.0.0.1" {
		t.Errorf("unexpected ip key %q", got)
	}

	key := makeKey(LevelAPIKey, "top-secret")
	if key == "api_key:top-secret" {
		t.Error("api keys must not be stored in plain text")
	}
	if key != makeKey(LevelAPIKey, "top-secret") {
		t.Error("api key hashing must be stable")
	}
	if len(key) != len("api_key:")+16 {
		t.Errorf("unexpected api key length %q", key)
	}
}

func TestZeroLimitsAreUnlimited(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{},
		FlushInterval: time.Hour,
	})

	for i := 0; i < 50; i++ {
		if result, _ := limiter.Allow(context.Background(), &Request{}); !result.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
}

func TestLimitFor(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{RunsPerDay: 100},
		DefaultAPIKey: &LimitConfig{RunsPerHour: 1},
		APIKeys:       map[string]*LimitConfig{"vip": {RunsPerHour: 9}},
		FlushInterval: time.Hour,
	})

	if got := limiter.LimitFor(LevelGlobal, "global"); got == nil || got.RunsPerDay != 100 {
		t.Errorf("unexpected global limit %+v", got)
	}
	if got := limiter.LimitFor(LevelIP, "10.0.0.1"); got != nil {
		t.Errorf("expected no ip limit, got %+v", got)
	}
	if got := limiter.LimitFor(LevelAPIKey, "vip"); got == nil || got.RunsPerHour != 9 {
		t.Errorf("unexpected vip limit %+v", got)
	}
	if got := limiter.LimitFor(LevelAPIKey, "other"); got == nil || got.RunsPerHour != 1 {
		t.Errorf("unexpected default api key limit %+v", got)
	}
	if got := limiter.LimitFor(Level("domain"), "x"); got != nil {
		t.Errorf("unknown level should have no limit, got %+v", got)
	}
}
