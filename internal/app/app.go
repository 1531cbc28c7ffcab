package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/gridline/internal/api"
	"github.com/foxzi/gridline/internal/config"
	"github.com/foxzi/gridline/internal/history"
	"github.com/foxzi/gridline/internal/intake"
	"github.com/foxzi/gridline/internal/llm"
	"github.com/foxzi/gridline/internal/metrics"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/ratelimit"
	"github.com/foxzi/gridline/internal/tlsutil"
	"github.com/foxzi/gridline/internal/web/handlers"
)

// App is the main application
type App struct {
	config        *config.Config
	version       string
	storage       *queue.BoltStorage
	history       *history.Store
	processor     *queue.Processor
	cleaner       *queue.Cleaner
	rateLimiter   *ratelimit.Limiter
	collector     *metrics.Collector
	metricsServer *metrics.Server
	apiServer     *api.Server
	acmeManager   *tlsutil.ACMEManager
	acmeServer    *http.Server
	closeCache    func()
	logger        *slog.Logger
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger := NewLogger(cfg.Logging, os.Stdout)

	a := &App{
		config:  cfg,
		version: version,
		logger:  logger,
	}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	storage, err := queue.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	a.storage = storage

	// history, rate limits and metric counters share the queue's database file
	a.history, err = history.New(storage.DB(), cfg.Storage.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to create history: %w", err)
	}

	extractor, closeCache, err := NewExtractor(ctx, cfg, a.history, logger)
	if err != nil {
		return err
	}
	a.closeCache = closeCache

	a.processor = queue.NewProcessor(
		storage,
		intake.NewRunner(extractor),
		queue.ProcessorConfig{
			Workers:         cfg.Jobs.Workers,
			RetryInterval:   cfg.Jobs.RetryInterval,
			MaxRetries:      cfg.Jobs.MaxRetries,
			ProcessInterval: cfg.Jobs.ProcessInterval,
			JobTimeout:      cfg.Jobs.Timeout,
		},
		llm.IsTemporary,
		logger.With("component", "processor"),
	)

	if cfg.Jobs.Retention > 0 {
		a.cleaner = queue.NewCleaner(storage, queue.CleanerConfig{
			MaxAge:   cfg.Jobs.Retention,
			Interval: cfg.Jobs.CleanupInterval,
		}, logger.With("component", "cleaner"))
	}

	var (
		limiter intake.Limiter
		limits  api.RateLimits
	)
	if cfg.RateLimit.Enabled {
		a.rateLimiter, err = ratelimit.NewLimiter(storage.DB(), rateLimitConfig(cfg.RateLimit))
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		limiter, limits = a.rateLimiter, a.rateLimiter
		logger.Info("rate limiting enabled")
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(storage.DB(), m, storage, a.history, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"))
	}

	service := intake.NewService(storage, limiter, a.processor, logger)

	var ui http.Handler
	if !cfg.Server.DisableUI {
		pages, err := handlers.New(handlers.Options{
			Jobs:           storage,
			History:        a.history,
			Intake:         service,
			Agents:         models.NewAgentDirectory(cfg.Agents),
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create web UI: %w", err)
		}
		ui = pages.Routes()
	}

	a.apiServer = api.NewServer(api.Options{
		Config:     &cfg.Server,
		Version:    a.version,
		Queue:      storage,
		History:    a.history,
		Intake:     service,
		RateLimits: limits,
		UI:         ui,
		Logger:     logger,
	})

	tlsConfig, err := a.setupTLS()
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		a.apiServer.SetTLSConfig(tlsConfig)
	}

	return nil
}

// setupTLS returns nil when the server runs plain HTTP
func (a *App) setupTLS() (*tls.Config, error) {
	tlsCfg := a.config.Server.TLS

	if tlsCfg.ACME.Enabled {
		a.acmeManager = tlsutil.NewACMEManager(tlsCfg.ACME.Email, tlsCfg.ACME.Domains, tlsCfg.ACME.CacheDir)
		a.logger.Info("ACME (Let's Encrypt) enabled", "domains", tlsCfg.ACME.Domains)
		return a.acmeManager.TLSConfig(), nil
	}

	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		tlsConfig, err := tlsutil.LoadCertificate(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		if info, err := tlsutil.ReadCertificateInfo(tlsCfg.CertFile); err == nil {
			a.logger.Info("TLS enabled with manual certificates",
				"subject", info.Subject,
				"not_after", info.NotAfter,
				"days_left", info.DaysLeft)
			if info.Expired() {
				a.logger.Warn("TLS certificate has expired", "not_after", info.NotAfter)
			}
		}
		return tlsConfig, nil
	}

	return nil, nil
}

func rateLimitConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	convert := func(v *config.LimitValues) *ratelimit.LimitConfig {
		if v == nil {
			return nil
		}
		return &ratelimit.LimitConfig{RunsPerHour: v.RunsPerHour, RunsPerDay: v.RunsPerDay}
	}

	rl := &ratelimit.Config{
		Global:        convert(cfg.Global),
		DefaultIP:     convert(cfg.DefaultIP),
		DefaultAPIKey: convert(cfg.DefaultAPIKey),
		FlushInterval: cfg.FlushInterval,
	}
	if len(cfg.APIKeys) > 0 {
		rl.APIKeys = make(map[string]*ratelimit.LimitConfig, len(cfg.APIKeys))
		for key, v := range cfg.APIKeys {
			rl.APIKeys[key] = convert(v)
		}
	}
	return rl
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting gridline",
		"version", a.version,
		"addr", a.config.Server.ListenAddr,
		"provider", a.config.LLM.Provider,
		"ui", !a.config.Server.DisableUI,
		"metrics", a.config.Metrics.Enabled)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// jobs left running by a crash are picked up again
	if n, err := a.storage.RequeueRunning(ctx); err != nil {
		a.logger.Error("failed to requeue running jobs", "error", err)
	} else if n > 0 {
		a.logger.Info("requeued interrupted jobs", "count", n)
	}
	if n, err := a.history.Count(ctx); err == nil {
		metrics.SetHistoryBatches(n)
	}

	a.processor.Start(ctx)
	if a.cleaner != nil {
		a.cleaner.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.acmeManager != nil {
		addr := a.config.Server.TLS.ACME.ChallengeAddr
		a.acmeServer = &http.Server{
			Addr: addr,
			Handler: a.acmeManager.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				target := "https://" + r.Host + r.URL.Path
				if r.URL.RawQuery != "" {
					target += "?" + r.URL.RawQuery
				}
				http.Redirect(w, r, target, http.StatusMovedPermanently)
			})),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn("ACME HTTP server error", "error", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// stop accepting uploads before stopping the workers
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	a.processor.Stop()
	if a.cleaner != nil {
		a.cleaner.Stop()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// close persists counters and releases storage. It is safe on a partly
// built App.
func (a *App) close() {
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
		a.collector = nil
	}

	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
		a.rateLimiter = nil
	}

	if a.closeCache != nil {
		a.closeCache()
		a.closeCache = nil
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("storage close error", "error", err)
		}
		a.storage = nil
	}
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
