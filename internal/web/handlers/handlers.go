// Package handlers serves the browser pages: the upload form, job progress,
// saved batches, company contacts and the TSV export.
package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/gridline/internal/intake"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/web/static"
	"github.com/foxzi/gridline/internal/web/views"
)

// Jobs is the part of the queue the pages read
type Jobs interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error)
	Delete(ctx context.Context, id string) error
}

// History is the batch store behind the result pages
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

// Options holds the dependencies of the pages
type Options struct {
	Jobs           Jobs
	History        History
	Intake         Submitter
	Agents         *models.AgentDirectory
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handlers renders the web UI
type Handlers struct {
	jobs      Jobs
	history   History
	intake    Submitter
	agents    *models.AgentDirectory
	maxUpload int64
	views     *views.Engine
	logger    *slog.Logger
}

// New parses the page templates and returns the handlers
func New(opts Options) (*Handlers, error) {
	engine, err := views.New()
	if err != nil {
		return nil, err
	}

	agents := opts.Agents
	if agents == nil {
		agents = models.NewAgentDirectory(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handlers{
		jobs:      opts.Jobs,
		history:   opts.History,
		intake:    opts.Intake,
		agents:    agents,
		maxUpload: opts.MaxUploadBytes,
		views:     engine,
		logger:    logger.With("component", "web"),
	}, nil
}

// Routes returns the page router, meant to be mounted at /
func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.sameOrigin)

	r.Handle("/static/*", http.StripPrefix("/static/", static.Handler()))

	r.Get("/", h.Index)
	r.Post("/extractions", h.CreateExtraction)
	r.Get("/jobs/{id}", h.JobView)
	r.Post("/jobs/{id}/delete", h.JobDelete)
	r.Post("/history/clear", h.HistoryClear)
	r.Get("/batches/{id}", h.BatchView)
	r.Post("/batches/{id}/delete", h.BatchDelete)
	r.Get("/batches/{id}/tsv", h.BatchTSV)
	r.Get("/batches/{id}/companies/{company}", h.CompanyView)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.error(w, http.StatusNotFound, "Page not found")
	})

	return r
}

// render executes the page into a buffer so that a template failure still
// produces a clean 500
func (h *Handlers) render(w http.ResponseWriter, status int, name string, data map[string]any) {
	var buf bytes.Buffer
	if err := h.views.Render(&buf, name, data); err != nil {
		h.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// error renders the error page
func (h *Handlers) error(w http.ResponseWriter, status int, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request error", "status", status, "message", message)
	}
	h.render(w, status, "error", map[string]any{
		"Title":   http.StatusText(status),
		"Message": message,
	})
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
