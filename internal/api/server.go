package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/gridline/internal/config"
	"github.com/foxzi/gridline/internal/intake"
	"github.com/foxzi/gridline/internal/ipfilter"
	"github.com/foxzi/gridline/internal/metrics"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/ratelimit"
)

// History is the batch store behind /api/v1/batches
type History interface {
	Summaries(ctx context.Context) ([]models.BatchSummary, error)
	Get(ctx context.Context, id string) (*models.Batch, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Limit() int
}

// Submitter queues uploaded PDFs
type Submitter interface {
	Submit(ctx context.Context, u intake.Upload) (*queue.Job, error)
}

// RateLimits exposes limiter state
type RateLimits interface {
	GetStats(ctx context.Context, level ratelimit.Level, key string) (*ratelimit.Stats, error)
	LimitFor(level ratelimit.Level, key string) *ratelimit.LimitConfig
}

// Options holds the dependencies of the server
type Options struct {
	Config     *config.ServerConfig
	Version    string
	Queue      queue.Queue
	History    History
	Intake     Submitter
	RateLimits RateLimits   // nil when rate limiting is disabled
	UI         http.Handler // mounted at / when set
	Logger     *slog.Logger
}

// Server is the HTTP server for the JSON API and the web UI
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	tlsConfig  *tls.Config
	config     *config.ServerConfig
	version    string
	queue      queue.Queue
	history    History
	intake     Submitter
	limits     RateLimits
	ui         http.Handler
	filter     *ipfilter.Filter
	proxies    *ipfilter.Filter
	keys       []string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		config:    opts.Config,
		version:   opts.Version,
		queue:     opts.Queue,
		history:   opts.History,
		intake:    opts.Intake,
		limits:    opts.RateLimits,
		ui:        opts.UI,
		keys:      opts.Config.Keys(),
		logger:    opts.Logger.With("component", "http"),
		startTime: time.Now(),
	}
	s.filter = ipfilter.New(opts.Config.AllowedIPs, s.logger)
	s.proxies = ipfilter.New(opts.Config.TrustedProxies, s.logger)

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(ipfilter.RealIP(s.proxies))
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth, no IP filter)
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.filter.Middleware)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/extractions", s.handleCreateExtraction)
			r.Get("/extractions", s.handleListExtractions)
			r.Get("/extractions/{id}", s.handleGetExtraction)
			r.Delete("/extractions/{id}", s.handleDeleteExtraction)

			r.Get("/batches", s.handleListBatches)
			r.Delete("/batches", s.handleClearBatches)
			r.Get("/batches/{id}", s.handleGetBatch)
			r.Delete("/batches/{id}", s.handleDeleteBatch)
			r.Get("/batches/{id}/tsv", s.handleBatchTSV)
			r.Get("/batches/{id}/contacts/{company}", s.handleBatchContact)

			r.Get("/ratelimits/{level}/{key}", s.handleRateLimitStats)
		})

		if s.ui != nil {
			r.Mount("/", s.ui)
		}
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetTLSConfig makes ListenAndServe serve HTTPS
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		TLSConfig:      s.tlsConfig,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting HTTP server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
