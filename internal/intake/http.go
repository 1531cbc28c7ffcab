package intake

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/foxzi/gridline/internal/ipfilter"
	"github.com/foxzi/gridline/internal/models"
)

var (
	// ErrTooLarge is returned when the request body exceeds the upload limit
	ErrTooLarge = errors.New("upload too large")
	// ErrBadForm is returned for requests that are not multipart uploads
	ErrBadForm = errors.New("invalid upload form")
)

// multipart parts above this size spill to temp files
const maxMemory = 8 << 20

// ParseRequest reads a multipart upload with the fields file, issue_date
// and target_list. The body is capped at maxBytes.
func ParseRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (Upload, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return Upload{}, ErrTooLarge
		}
		return Upload{}, fmt.Errorf("%w: %v", ErrBadForm, err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	u := Upload{
		IssueDate:  r.FormValue("issue_date"),
		TargetList: r.FormValue("target_list"),
	}
	if addr := ipfilter.ClientAddr(r); addr.IsValid() {
		u.ClientIP = addr.String()
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return u, ErrEmptyUpload
	}
	if err != nil {
		return u, fmt.Errorf("%w: %v", ErrBadForm, err)
	}
	defer file.Close()

	u.FileName = header.Filename
	u.Data, err = io.ReadAll(file)
	if err != nil {
		return u, fmt.Errorf("failed to read upload: %w", err)
	}
	return u, nil
}

// StatusCode maps a submission error to an HTTP status
func StatusCode(err error) int {
	var limitErr *LimitError
	switch {
	case errors.As(err, &limitErr):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotPDF):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrEmptyUpload), errors.Is(err, ErrBadForm), errors.Is(err, models.ErrInvalidIssueDate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user facing text for a submission error
func Message(err error) string {
	switch StatusCode(err) {
	case http.StatusUnsupportedMediaType:
		return "Please drop a PDF file"
	case http.StatusUnprocessableEntity:
		return "No text could be extracted from the PDF"
	case http.StatusRequestEntityTooLarge:
		return "The PDF is too large"
	case http.StatusInternalServerError:
		return "Failed to queue extraction"
	default:
		return err.Error()
	}
}

// SetRetryAfter sets the Retry-After header for rate limited submissions
func SetRetryAfter(w http.ResponseWriter, err error) {
	var limitErr *LimitError
	if errors.As(err, &limitErr) {
		secs := int(math.Ceil(limitErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
