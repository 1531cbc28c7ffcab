package intake

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/ratelimit"
)

func multipartRequest(t *testing.T, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "192.0.2.10:40000"
	return req
}

func TestParseRequest(t *testing.T) {
	req := multipartRequest(t, "issue.pdf", []byte("%PDF-1.4 data"), map[string]string{
		"issue_date":  "2026-01-02",
		"target_list": "Bunker (HD)",
	})

	u, err := ParseRequest(httptest.NewRecorder(), req, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "issue.pdf", u.FileName)
	assert.Equal(t, []byte("%PDF-1.4 data"), u.Data)
	assert.Equal(t, "2026-01-02", u.IssueDate)
	assert.Equal(t, "Bunker (HD)", u.TargetList)
	assert.Equal(t, "192.0.2.10", u.ClientIP)
}

func TestParseRequestMissingFile(t *testing.T) {
	req := multipartRequest(t, "", nil, map[string]string{"issue_date": "2026-01-02"})

	u, err := ParseRequest(httptest.NewRecorder(), req, 1<<20)
	assert.ErrorIs(t, err, ErrEmptyUpload)
	assert.Equal(t, "2026-01-02", u.IssueDate)
}

func TestParseRequestTooLarge(t *testing.T) {
	req := multipartRequest(t, "big.pdf", bytes.Repeat([]byte("x"), 4096), nil)

	_, err := ParseRequest(httptest.NewRecorder(), req, 1024)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestParseRequestNotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	_, err := ParseRequest(httptest.NewRecorder(), req, 1024)
	assert.ErrorIs(t, err, ErrBadForm)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&LimitError{Level: ratelimit.LevelGlobal}, http.StatusTooManyRequests},
		{ErrTooLarge, http.StatusRequestEntityTooLarge},
		{ErrNotPDF, http.StatusUnsupportedMediaType},
		{fmt.Errorf("extract: %w", ErrNoText), http.StatusUnprocessableEntity},
		{ErrEmptyUpload, http.StatusBadRequest},
		{fmt.Errorf("%w: nope", ErrBadForm), http.StatusBadRequest},
		{fmt.Errorf("%w \"x\"", models.ErrInvalidIssueDate), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}

	assert.Equal(t, "Please drop a PDF file", Message(ErrNotPDF))
	assert.Equal(t, "Failed to queue extraction", Message(errors.New("disk full")))
}

func TestSetRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	SetRetryAfter(w, &LimitError{RetryAfter: 1500 * time.Millisecond})
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	SetRetryAfter(w, &LimitError{})
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	SetRetryAfter(w, ErrNotPDF)
	assert.Empty(t, w.Header().Get("Retry-After"))
}
