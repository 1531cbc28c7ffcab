package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/gridline/internal/export"
	"github.com/foxzi/gridline/internal/intake"
	"github.com/foxzi/gridline/internal/metrics"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
)

const (
	recentJobs     = 10
	refreshSeconds = 3
)

// Agent is one analyst chip in the results table
type Agent struct {
	Initials string
	Name     string
}

// Row is one project prepared for display
type Row struct {
	Project   models.Project
	Agents    []Agent
	Companies []string
}

// Index shows the upload form, recent jobs and the history
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, map[string]any{
		"IssueDate": time.Now().Format("2006-01-02"),
	})
}

func (h *Handlers) renderIndex(w http.ResponseWriter, r *http.Request, status int, data map[string]any) {
	jobs, err := h.jobs.List(r.Context(), queue.ListFilter{Limit: recentJobs})
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
	}
	batches, err := h.history.Summaries(r.Context())
	if err != nil {
		h.logger.Error("failed to list batches", "error", err)
	}

	data["Title"] = ""
	data["Jobs"] = jobs
	data["Batches"] = batches
	data["HistoryLimit"] = h.history.Limit()
	data["MaxUploadMB"] = h.maxUpload >> 20

	h.render(w, status, "index", data)
}

// CreateExtraction accepts the upload form and redirects to the job page
func (h *Handlers) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	upload, err := intake.ParseRequest(w, r, h.maxUpload)
	if err == nil {
		var job *queue.Job
		job, err = h.intake.Submit(r.Context(), upload)
		if err == nil {
			h.logger.Info("extraction queued", "id", job.ID, "file", job.FileName)
			http.Redirect(w, r, "/jobs/"+job.ID, http.StatusSeeOther)
			return
		}
	}

	status := intake.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("failed to queue extraction", "error", err)
	}
	intake.SetRetryAfter(w, err)

	issueDate := upload.IssueDate
	if issueDate == "" {
		issueDate = time.Now().Format("2006-01-02")
	}
	h.renderIndex(w, r, status, map[string]any{
		"Error":      intake.Message(err),
		"IssueDate":  issueDate,
		"TargetList": upload.TargetList,
	})
}

// JobView shows the progress of a job. A finished job whose batch is still
// in history redirects to the results.
func (h *Handlers) JobView(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get job", "id", id, "error", err)
		h.error(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	if job == nil {
		h.error(w, http.StatusNotFound, "Job not found")
		return
	}

	if job.BatchID != "" {
		batch, err := h.history.Get(r.Context(), job.BatchID)
		if err != nil {
			h.logger.Warn("failed to get batch", "id", job.BatchID, "error", err)
		}
		if batch != nil {
			http.Redirect(w, r, "/batches/"+batch.ID, http.StatusSeeOther)
			return
		}
	}

	h.render(w, http.StatusOK, "job", map[string]any{
		"Title":          "Extraction",
		"Job":            job,
		"RefreshSeconds": refreshSeconds,
	})
}

// JobDelete removes a job
func (h *Handlers) JobDelete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if err := h.jobs.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete job", "id", id, "error", err)
		h.error(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	h.logger.Info("job deleted", "id", id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HistoryClear removes every saved batch
func (h *Handlers) HistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear history", "error", err)
		h.error(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}

	metrics.SetHistoryBatches(0)
	h.logger.Info("history cleared")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// loadBatch renders a 404 or 500 and returns nil when the batch is unavailable
func (h *Handlers) loadBatch(w http.ResponseWriter, r *http.Request) *models.Batch {
	id := pathParam(r, "id")

	batch, err := h.history.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get batch", "id", id, "error", err)
		h.error(w, http.StatusInternalServerError, "Failed to load results")
		return nil
	}
	if batch == nil {
		h.error(w, http.StatusNotFound, "These results are no longer in history")
		return nil
	}
	return batch
}

// BatchView shows the projects of a batch
func (h *Handlers) BatchView(w http.ResponseWriter, r *http.Request) {
	batch := h.loadBatch(w, r)
	if batch == nil {
		return
	}

	rows := make([]Row, 0, len(batch.Projects))
	for _, p := range batch.Projects {
		rows = append(rows, Row{
			Project:   p,
			Agents:    h.projectAgents(&p),
			Companies: p.Companies(),
		})
	}

	h.render(w, http.StatusOK, "batch", map[string]any{
		"Title":   "Issue " + batch.IssueDate,
		"Batch":   batch,
		"Rows":    rows,
		"Targets": models.ParseTargetList(batch.TargetList),
	})
}

func (h *Handlers) projectAgents(p *models.Project) []Agent {
	var agents []Agent
	seen := make(map[string]bool)
	add := func(initials string) {
		if initials == "" || seen[initials] {
			return
		}
		seen[initials] = true
		agents = append(agents, Agent{Initials: initials, Name: h.agents.FullName(initials)})
	}

	add(strings.ToUpper(strings.TrimSpace(p.PrimaryAgent)))
	for _, initials := range p.SecondaryAgentList() {
		add(initials)
	}
	return agents
}

// BatchDelete removes one batch from history
func (h *Handlers) BatchDelete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if err := h.history.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete batch", "id", id, "error", err)
		h.error(w, http.StatusInternalServerError, "Failed to delete results")
		return
	}

	if n, err := h.history.Count(r.Context()); err == nil {
		metrics.SetHistoryBatches(n)
	}
	h.logger.Info("batch deleted", "id", id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// BatchTSV shows the TSV export in a copyable text area, or serves it as
// a file with ?download=1
func (h *Handlers) BatchTSV(w http.ResponseWriter, r *http.Request) {
	batch := h.loadBatch(w, r)
	if batch == nil {
		return
	}

	fileName := export.FileName(batch)
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		w.Header().Set("Content-Type", export.TSVContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
		if err := export.WriteTSV(w, batch.Projects); err != nil {
			h.logger.Warn("failed to write TSV", "id", batch.ID, "error", err)
		}
		return
	}

	h.render(w, http.StatusOK, "tsv", map[string]any{
		"Title":    "TSV export",
		"Batch":    batch,
		"FileName": fileName,
		"TSV":      export.TSV(batch.Projects),
	})
}

// CompanyView shows the contact details of one company of a batch
func (h *Handlers) CompanyView(w http.ResponseWriter, r *http.Request) {
	batch := h.loadBatch(w, r)
	if batch == nil {
		return
	}

	query := pathParam(r, "company")
	name, contact, found := batch.Contacts.Find(query)

	title := query
	if found {
		title = name
	}
	h.render(w, http.StatusOK, "company", map[string]any{
		"Title":   title,
		"Batch":   batch,
		"Query":   query,
		"Name":    name,
		"Found":   found,
		"Contact": contact,
		"Address": contact.FullAddress(),
	})
}
