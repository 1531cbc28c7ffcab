package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware records request counts, durations and error kinds for the
// API and web UI. It does nothing until a global Metrics is set.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

		if kind := errorKind(status); kind != "" {
			m.APIErrorsTotal.WithLabelValues(kind).Inc()
		}
	})
}

// routeLabel returns the matched chi pattern. Job, batch and company names
// never reach the label; unrouted paths share one value.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}

	pattern := rctx.RoutePattern()
	switch {
	case pattern == "" || pattern == "/*":
		return "unmatched"
	case strings.HasPrefix(pattern, "/static/"):
		return "/static/*"
	}
	return pattern
}

// errorKind names the failure class of a status, "" for successes
func errorKind(status int) string {
	switch {
	case status < 400:
		return ""
	case status >= 500:
		return "server_error"
	}

	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "auth_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusUnsupportedMediaType:
		return "not_pdf"
	case http.StatusUnprocessableEntity:
		return "no_text"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "client_error"
	}
}
