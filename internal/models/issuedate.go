package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidIssueDate is returned for dates in neither accepted format
var ErrInvalidIssueDate = errors.New("invalid issue date")

// IssueDateLayout is the day-first format the extraction prompt documents
const IssueDateLayout = "02/01/2006"

// ParseIssueDate accepts "YYYY-MM-DD" (HTML date inputs) or "DD/MM/YYYY".
// An empty string yields today's date.
func ParseIssueDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range []string{"2006-01-02", IssueDateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w %q: use YYYY-MM-DD or DD/MM/YYYY", ErrInvalidIssueDate, s)
}

// FormatIssueDate renders a date the way the prompt expects it
func FormatIssueDate(t time.Time) string {
	return t.Format(IssueDateLayout)
}
