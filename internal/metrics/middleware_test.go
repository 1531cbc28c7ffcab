package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware)

	r.Get("/api/v1/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write([]byte("{}"))
	})
	r.Post("/api/v1/extractions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
	})
	r.Get("/static/*", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func serve(h http.Handler, method, path string) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec.Code
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	router := newTestRouter()

	if code := serve(router, http.MethodGet, "/api/v1/batches/1a2b"); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	serve(router, http.MethodGet, "/api/v1/batches/3c4d")
	serve(router, http.MethodGet, "/api/v1/batches/missing")
	serve(router, http.MethodPost, "/api/v1/extractions")
	serve(router, http.MethodGet, "/static/css/style.css")
	serve(router, http.MethodGet, "/nowhere")

	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/batches/{id}", "200")); got != 2 {
		t.Errorf("batch requests = %v, want 2 under one route label", got)
	}
	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/static/*", "200")); got != 1 {
		t.Errorf("static requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("not_found")); got != 2 {
		t.Errorf("not_found errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("not_pdf")); got != 1 {
		t.Errorf("not_pdf errors = %v, want 1", got)
	}
}

func TestHTTPMiddlewareNoMetrics(t *testing.T) {
	SetGlobal(nil)

	if code := serve(newTestRouter(), http.MethodGet, "/api/v1/batches/1"); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}

func TestRouteLabelWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/1", nil)
	if got := routeLabel(req); got != "unmatched" {
		t.Errorf("routeLabel() = %q, want unmatched", got)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, ""},
		{http.StatusAccepted, ""},
		{http.StatusSeeOther, ""},
		{http.StatusBadRequest, "bad_request"},
		{http.StatusUnauthorized, "auth_error"},
		{http.StatusForbidden, "auth_error"},
		{http.StatusNotFound, "not_found"},
		{http.StatusRequestEntityTooLarge, "too_large"},
		{http.StatusUnsupportedMediaType, "not_pdf"},
		{http.StatusUnprocessableEntity, "no_text"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusConflict, "client_error"},
		{http.StatusInternalServerError, "server_error"},
		{http.StatusBadGateway, "server_error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := errorKind(tt.status); got != tt.want {
				t.Errorf("errorKind(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}
