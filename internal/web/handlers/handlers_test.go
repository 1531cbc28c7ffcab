package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/gridline/internal/intake"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/ratelimit"
)

type fakeJobs struct {
	jobs    map[string]*queue.Job
	deleted []string
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*queue.Job, error) {
	return f.jobs[id], nil
}

func (f *fakeJobs) List(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error) {
	var out []*queue.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.jobs, id)
	return nil
}

type fakeHistory struct {
	batches map[string]*models.Batch
	cleared bool
}

func (f *fakeHistory) Summaries(ctx context.Context) ([]models.BatchSummary, error) {
	var out []models.BatchSummary
	for _, b := range f.batches {
		out = append(out, b.Summary())
	}
	return out, nil
}

func (f *fakeHistory) Get(ctx context.Context, id string) (*models.Batch, error) {
	return f.batches[id], nil
}

func (f *fakeHistory) Delete(ctx context.Context, id string) error {
	delete(f.batches, id)
	return nil
}

func (f *fakeHistory) Clear(ctx context.Context) error {
	f.batches = map[string]*models.Batch{}
	f.cleared = true
	return nil
}

func (f *fakeHistory) Count(ctx context.Context) (int, error) { return len(f.batches), nil }

func (f *fakeHistory) Limit() int { return 5 }

type fakeSubmitter struct {
	got intake.Upload
	job *queue.Job
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, u intake.Upload) (*queue.Job, error) {
	f.got = u
	return f.job, f.err
}

func testBatch() *models.Batch {
	return &models.Batch{
		ID:         "batch-1",
		Timestamp:  time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		IssueDate:  "05/03/2026",
		TargetList: `"Bunker" (HD & ZH)`,
		FileName:   "pw-2026-03-05.pdf",
		Projects: []models.Project{
			{
				IssueDate:       "05/03/2026",
				ProjectName:     "Bunker",
				PrimaryAgent:    "HD",
				SecondaryAgents: "ZH",
				Type:            "Feature Film",
				Status:          "Pre-Production",
				PrimaryCompany:  "A24 Films",
				CityLocations:   []string{"London"},
				Director:        []string{"Jane Doe"},
			},
		},
		Contacts: models.ContactDictionary{
			"A24 Films LLC": {CompanyType: "Production", Phone: "+1 555 0100", City: "New York", Country: "USA"},
		},
	}
}

func setupTestHandlers(t *testing.T) (*Handlers, *fakeJobs, *fakeHistory, *fakeSubmitter) {
	t.Helper()

	jobs := &fakeJobs{jobs: map[string]*queue.Job{}}
	history := &fakeHistory{batches: map[string]*models.Batch{"batch-1": testBatch()}}
	sub := &fakeSubmitter{}

	h, err := New(Options{
		Jobs:           jobs,
		History:        history,
		Intake:         sub,
		MaxUploadBytes: 50 << 20,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h, jobs, history, sub
}

func do(h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func uploadForm(t *testing.T, data []byte, targets string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("issue_date", "2026-03-05")
	_ = mw.WriteField("target_list", targets)
	fw, err := mw.CreateFormFile("file", "issue.pdf")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIndex(t *testing.T) {
	h, jobs, _, _ := setupTestHandlers(t)
	jobs.jobs["job-1"] = &queue.Job{ID: "job-1", FileName: "weekly.pdf", Status: queue.StatusRunning, Stage: "projects"}

	w := do(h.Routes(), http.MethodGet, "/", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`action="/extractions"`, "weekly.pdf", "status-running", "/batches/batch-1", "last 5"} {
		if !strings.Contains(body, want) {
			t.Errorf("index page missing %q", want)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCreateExtraction(t *testing.T) {
	h, _, _, sub := setupTestHandlers(t)
	sub.job = &queue.Job{ID: "job-42", FileName: "issue.pdf"}

	body, ct := uploadForm(t, []byte("%PDF-1.4 fake"), `"Bunker" (HD)`)
	w := do(h.Routes(), http.MethodPost, "/extractions", body, ct)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/jobs/job-42" {
		t.Errorf("Location = %q", loc)
	}
	if sub.got.FileName != "issue.pdf" || sub.got.IssueDate != "2026-03-05" {
		t.Errorf("submitted upload = %+v", sub.got)
	}
	if sub.got.TargetList != `"Bunker" (HD)` {
		t.Errorf("TargetList = %q", sub.got.TargetList)
	}
}

func TestCreateExtractionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantText   string
		retryAfter string
	}{
		{"not a pdf", intake.ErrNotPDF, http.StatusUnsupportedMediaType, "Please drop a PDF file", ""},
		{"no text", intake.ErrNoText, http.StatusUnprocessableEntity, "No text could be extracted", ""},
		{"rate limited", &intake.LimitError{Level: ratelimit.LevelIP, RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, "rate limit exceeded", "90"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, sub := setupTestHandlers(t)
			sub.err = tt.err

			body, ct := uploadForm(t, []byte("data"), "Stargate (AV)")
			w := do(h.Routes(), http.MethodPost, "/extractions", body, ct)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			page := w.Body.String()
			if !strings.Contains(page, tt.wantText) {
				t.Errorf("page missing %q", tt.wantText)
			}
			if !strings.Contains(page, "Stargate (AV)") {
				t.Error("target list not kept in the form")
			}
			if got := w.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestCreateExtractionMissingFile(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("issue_date", "2026-03-05")
	_ = mw.Close()

	w := do(h.Routes(), http.MethodPost, "/extractions", &buf, mw.FormDataContentType())
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestJobView(t *testing.T) {
	h, jobs, _, _ := setupTestHandlers(t)
	jobs.jobs["pending"] = &queue.Job{ID: "pending", Status: queue.StatusPending, IssueDate: "05/03/2026"}
	jobs.jobs["done"] = &queue.Job{ID: "done", Status: queue.StatusDone, BatchID: "batch-1"}
	jobs.jobs["evicted"] = &queue.Job{ID: "evicted", Status: queue.StatusDone, BatchID: "gone"}
	jobs.jobs["failed"] = &queue.Job{ID: "failed", Status: queue.StatusFailed, LastError: "model returned invalid JSON"}

	router := h.Routes()

	w := do(router, http.MethodGet, "/jobs/pending", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("pending: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `http-equiv="refresh"`) {
		t.Error("pending job page should refresh")
	}

	w = do(router, http.MethodGet, "/jobs/done", nil, "")
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/batches/batch-1" {
		t.Errorf("done: status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}

	w = do(router, http.MethodGet, "/jobs/evicted", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "no longer in history") {
		t.Errorf("evicted: status = %d", w.Code)
	}

	w = do(router, http.MethodGet, "/jobs/failed", nil, "")
	body := w.Body.String()
	if strings.Contains(body, `http-equiv="refresh"`) {
		t.Error("failed job page should not refresh")
	}
	if !strings.Contains(body, "model returned invalid JSON") {
		t.Error("failed job page should show the error")
	}

	w = do(router, http.MethodGet, "/jobs/missing", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", w.Code)
	}
}

func TestJobDelete(t *testing.T) {
	h, jobs, _, _ := setupTestHandlers(t)
	jobs.jobs["job-1"] = &queue.Job{ID: "job-1"}

	w := do(h.Routes(), http.MethodPost, "/jobs/job-1/delete", nil, "")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if len(jobs.deleted) != 1 || jobs.deleted[0] != "job-1" {
		t.Errorf("deleted = %v", jobs.deleted)
	}
}

func TestBatchView(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t)

	w := do(h.Routes(), http.MethodGet, "/batches/batch-1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"Bunker",
		`title="Hamish Duff"`,
		`title="Zoe Hart"`,
		"/batches/batch-1/companies/A24%20Films",
		"Jane Doe",
		"/batches/batch-1/tsv",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("batch page missing %q", want)
		}
	}

	w = do(h.Routes(), http.MethodGet, "/batches/nope", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown batch: status = %d, want 404", w.Code)
	}
}

func TestCompanyView(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t)

	w := do(h.Routes(), http.MethodGet, "/batches/batch-1/companies/A24%20Films", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "A24 Films LLC") || !strings.Contains(body, "+1 555 0100") {
		t.Error("company page should show the fuzzy matched contact")
	}
	if !strings.Contains(body, "New York, USA") {
		t.Error("company page should show the address")
	}

	w = do(h.Routes(), http.MethodGet, "/batches/batch-1/companies/Warner", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "No contact details found") {
		t.Errorf("unknown company: status = %d", w.Code)
	}
}

func TestBatchTSV(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t)
	router := h.Routes()

	w := do(router, http.MethodGet, "/batches/batch-1/tsv", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<textarea") || !strings.Contains(w.Body.String(), "Project Name") {
		t.Error("TSV page should show the export in a text area")
	}

	w = do(router, http.MethodGet, "/batches/batch-1/tsv?download=1", nil, "")
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/tab-separated-values") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "gridline-2026-03-05") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("TSV lines = %d, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[1], "05/03/2026\tBunker\tHD\tZH") {
		t.Errorf("TSV row = %q", lines[1])
	}
}

func TestHistoryMutations(t *testing.T) {
	h, _, history, _ := setupTestHandlers(t)
	router := h.Routes()

	w := do(router, http.MethodPost, "/batches/batch-1/delete", nil, "")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("delete: status = %d", w.Code)
	}
	if _, ok := history.batches["batch-1"]; ok {
		t.Error("batch should be deleted")
	}

	history.batches["batch-2"] = testBatch()
	w = do(router, http.MethodPost, "/history/clear", nil, "")
	if w.Code != http.StatusSeeOther || !history.cleared {
		t.Errorf("clear: status = %d, cleared = %v", w.Code, history.cleared)
	}
}

func TestStaticAndNotFound(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t)
	router := h.Routes()

	w := do(router, http.MethodGet, "/static/css/style.css", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("stylesheet: status = %d", w.Code)
	}

	w = do(router, http.MethodGet, "/no/such/page", nil, "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Page not found") {
		t.Errorf("unknown page: status = %d", w.Code)
	}
}

func TestCrossSitePostsRejected(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"other site fetch", map[string]string{"Sec-Fetch-Site": "cross-site"}, http.StatusForbidden},
		{"sibling subdomain", map[string]string{"Sec-Fetch-Site": "same-site"}, http.StatusForbidden},
		{"foreign origin", map[string]string{"Origin": "https://evil.example"}, http.StatusForbidden},
		{"null origin", map[string]string{"Origin": "null"}, http.StatusForbidden},
		{"same origin fetch", map[string]string{"Sec-Fetch-Site": "same-origin", "Origin": "http://example.com"}, http.StatusSeeOther},
		{"matching origin", map[string]string{"Origin": "http://example.com"}, http.StatusSeeOther},
		{"no browser headers", nil, http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, history, _ := setupTestHandlers(t)

			req := httptest.NewRequest(http.MethodPost, "/history/clear", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.Routes().ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if cleared := tt.want == http.StatusSeeOther; history.cleared != cleared {
				t.Errorf("cleared = %v, want %v", history.cleared, cleared)
			}
		})
	}
}

func TestCrossSiteGetAllowed(t *testing.T) {
	h, _, _, _ := setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/batches/batch-1", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
