package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/gridline/internal/export"
	"github.com/foxzi/gridline/internal/intake"
	"github.com/foxzi/gridline/internal/metrics"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/ratelimit"
)

// JobResponse describes an extraction job
type JobResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	IssueDate   string     `json:"issue_date"`
	BatchID     string     `json:"batch_id,omitempty"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// JobsResponse is the response for GET /extractions
type JobsResponse struct {
	Stats *queue.Stats   `json:"stats"`
	Jobs  []*JobResponse `json:"jobs"`
}

// BatchesResponse is the response for GET /batches
type BatchesResponse struct {
	Limit   int                   `json:"limit"`
	Batches []models.BatchSummary `json:"batches"`
}

// ContactResponse is the response for GET /batches/{id}/contacts/{company}
type ContactResponse struct {
	Query   string         `json:"query"`
	Company string         `json:"company"`
	Contact models.Contact `json:"contact"`
}

// RateLimitStatsResponse is the response for GET /ratelimits/{level}/{key}
type RateLimitStatsResponse struct {
	Level       string `json:"level"`
	Key         string `json:"key"`
	HourlyCount int    `json:"hourly_count"`
	DailyCount  int    `json:"daily_count"`
	HourlyLimit int    `json:"hourly_limit"`
	DailyLimit  int    `json:"daily_limit"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Jobs    *queue.Stats `json:"jobs"`
	Batches int          `json:"batches"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func newJobResponse(job *queue.Job) *JobResponse {
	resp := &JobResponse{
		ID:         job.ID,
		Status:     string(job.Status),
		Stage:      job.Stage,
		FileName:   job.FileName,
		IssueDate:  job.IssueDate,
		BatchID:    job.BatchID,
		RetryCount: job.RetryCount,
		LastError:  job.LastError,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if job.Status == queue.StatusDeferred && !job.NextRetryAt.IsZero() {
		next := job.NextRetryAt
		resp.NextRetryAt = &next
	}
	return resp
}

// handleCreateExtraction handles POST /api/v1/extractions
func (s *Server) handleCreateExtraction(w http.ResponseWriter, r *http.Request) {
	upload, err := intake.ParseRequest(w, r, s.config.MaxUploadBytes)
	if err == nil {
		upload.APIKey = apiKeyFrom(r.Context())
		var job *queue.Job
		job, err = s.intake.Submit(r.Context(), upload)
		if err == nil {
			w.Header().Set("Location", "/api/v1/extractions/"+job.ID)
			sendJSON(w, http.StatusAccepted, newJobResponse(job))
			return
		}
	}

	status := intake.StatusCode(err)
	switch status {
	case http.StatusInternalServerError:
		s.logger.Error("failed to submit extraction", "error", err)
	case http.StatusTooManyRequests:
		intake.SetRetryAfter(w, err)
	default:
		s.logger.Debug("extraction rejected", "status", status, "error", err)
	}
	sendError(w, status, intake.Message(err))
}

// handleListExtractions handles GET /api/v1/extractions
func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	filter := queue.ListFilter{
		Status: queue.JobStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get job stats", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get job stats")
		return
	}

	jobs, err := s.queue.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	resp := JobsResponse{Stats: stats, Jobs: make([]*JobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = newJobResponse(job)
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleGetExtraction handles GET /api/v1/extractions/{id}
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get job", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	if job == nil {
		sendError(w, http.StatusNotFound, "Job not found")
		return
	}

	sendJSON(w, http.StatusOK, newJobResponse(job))
}

// handleDeleteExtraction handles DELETE /api/v1/extractions/{id}
func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.queue.Get(r.Context(), id)
	if err == nil && job == nil {
		sendError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err == nil {
		err = s.queue.Delete(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("failed to delete job", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	s.logger.Info("job deleted via API", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListBatches handles GET /api/v1/batches
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.history.Summaries(r.Context())
	if err != nil {
		s.logger.Error("failed to list batches", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list batches")
		return
	}
	if summaries == nil {
		summaries = []models.BatchSummary{}
	}

	sendJSON(w, http.StatusOK, BatchesResponse{Limit: s.history.Limit(), Batches: summaries})
}

// handleClearBatches handles DELETE /api/v1/batches
func (s *Server) handleClearBatches(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear history", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}

	metrics.SetHistoryBatches(0)
	s.logger.Info("history cleared via API")
	w.WriteHeader(http.StatusNoContent)
}

// loadBatch writes a 404 or 500 and returns nil when the batch is unavailable
func (s *Server) loadBatch(w http.ResponseWriter, r *http.Request) *models.Batch {
	id := chi.URLParam(r, "id")

	batch, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get batch", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get batch")
		return nil
	}
	if batch == nil {
		sendError(w, http.StatusNotFound, "Batch not found")
		return nil
	}
	return batch
}

// handleGetBatch handles GET /api/v1/batches/{id}
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if batch := s.loadBatch(w, r); batch != nil {
		sendJSON(w, http.StatusOK, batch)
	}
}

// handleDeleteBatch handles DELETE /api/v1/batches/{id}
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	batch := s.loadBatch(w, r)
	if batch == nil {
		return
	}

	if err := s.history.Delete(r.Context(), batch.ID); err != nil {
		s.logger.Error("failed to delete batch", "id", batch.ID, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete batch")
		return
	}

	if n, err := s.history.Count(r.Context()); err == nil {
		metrics.SetHistoryBatches(n)
	}
	s.logger.Info("batch deleted via API", "id", batch.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleBatchTSV handles GET /api/v1/batches/{id}/tsv
func (s *Server) handleBatchTSV(w http.ResponseWriter, r *http.Request) {
	batch := s.loadBatch(w, r)
	if batch == nil {
		return
	}

	w.Header().Set("Content-Type", export.TSVContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(batch)))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteTSV(w, batch.Projects); err != nil {
		s.logger.Warn("failed to write TSV", "id", batch.ID, "error", err)
	}
}

// handleBatchContact handles GET /api/v1/batches/{id}/contacts/{company}
func (s *Server) handleBatchContact(w http.ResponseWriter, r *http.Request) {
	batch := s.loadBatch(w, r)
	if batch == nil {
		return
	}

	query := pathParam(r, "company")
	name, contact, ok := batch.Contacts.Find(query)
	if !ok {
		sendError(w, http.StatusNotFound, "No contact details found")
		return
	}

	sendJSON(w, http.StatusOK, ContactResponse{Query: query, Company: name, Contact: contact})
}

// handleRateLimitStats handles GET /api/v1/ratelimits/{level}/{key}
func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if s.limits == nil {
		sendError(w, http.StatusNotFound, "Rate limiting is not enabled")
		return
	}

	level := ratelimit.Level(chi.URLParam(r, "level"))
	switch level {
	case ratelimit.LevelGlobal, ratelimit.LevelIP, ratelimit.LevelAPIKey:
	default:
		sendError(w, http.StatusNotFound, "Unknown rate limit level")
		return
	}
	key := pathParam(r, "key")

	stats, err := s.limits.GetStats(r.Context(), level, key)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get rate limit stats")
		return
	}

	resp := RateLimitStatsResponse{
		Level:       string(level),
		Key:         key,
		HourlyCount: stats.HourlyCount,
		DailyCount:  stats.DailyCount,
	}
	if limit := s.limits.LimitFor(level, key); limit != nil {
		resp.HourlyLimit = limit.RunsPerHour
		resp.DailyLimit = limit.RunsPerDay
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.queue.Stats(r.Context())
	batches, _ := s.history.Count(r.Context())

	sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Jobs:    stats,
		Batches: batches,
	})
}

// pathParam returns a URL parameter with percent-encoding removed
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
