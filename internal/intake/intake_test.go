package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/gridline/internal/extract"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/pdftext/pdftest"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T) *queue.BoltStorage {
	t.Helper()
	q, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

type fakeLimiter struct {
	result  *ratelimit.Result
	err     error
	checked int
	seen    []ratelimit.Request
}

func (f *fakeLimiter) Check(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	f.checked++
	return f.result, f.err
}

func (f *fakeLimiter) Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error) {
	f.seen = append(f.seen, *req)
	return f.result, f.err
}

type countNotifier struct{ n int }

func (c *countNotifier) Notify() { c.n++ }

func TestSubmit(t *testing.T) {
	q := newTestQueue(t)
	limiter := &fakeLimiter{result: &ratelimit.Result{Allowed: true}}
	notifier := &countNotifier{}
	svc := NewService(q, limiter, notifier, testLogger())

	job, err := svc.Submit(context.Background(), Upload{
		FileName:   " pw-1234.pdf ",
		Data:       pdftest.Build("Bunker Lionsgate"),
		IssueDate:  "2026-03-05",
		TargetList: `"Bunker" (HD)`,
		ClientIP:   "10.0.0.1",
		APIKey:     "k",
	})
	require.NoError(t, err)

	assert.Equal(t, "pw-1234.pdf", job.FileName)
	assert.Equal(t, "05/03/2026", job.IssueDate)
	assert.Equal(t, queue.StatusPending, job.Status)
	assert.Contains(t, job.PDFText, "--- Page 1 ---")
	assert.Contains(t, job.PDFText, "Bunker")
	assert.Equal(t, 1, notifier.n)
	assert.Equal(t, 1, limiter.checked)
	require.Len(t, limiter.seen, 1)
	assert.Equal(t, ratelimit.Request{IP: "10.0.0.1", APIKey: "k"}, limiter.seen[0])

	stored, err := q.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, job.PDFText, stored.PDFText)
}

func TestSubmitDefaultsIssueDate(t *testing.T) {
	svc := NewService(newTestQueue(t), nil, nil, testLogger())
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC) }

	job, err := svc.Submit(context.Background(), Upload{Data: pdftest.Build("x")})
	require.NoError(t, err)
	assert.Equal(t, "18/10/2026", job.IssueDate)
}

func TestSubmitRejects(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		check  func(t *testing.T, err error)
	}{
		{"empty", Upload{}, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrEmptyUpload) }},
		{"not pdf", Upload{Data: []byte("hello world")}, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNotPDF) }},
		{"bad date", Upload{Data: pdftest.Build("x"), IssueDate: "March 5"}, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "invalid issue date")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			svc := NewService(q, nil, nil, testLogger())
			_, err := svc.Submit(context.Background(), tt.upload)
			require.Error(t, err)
			tt.check(t, err)

			stats, err := q.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Total)
		})
	}
}

func TestSubmitRateLimited(t *testing.T) {
	q := newTestQueue(t)
	limiter := &fakeLimiter{result: &ratelimit.Result{DeniedBy: ratelimit.LevelIP, RetryAfter: 90 * time.Second}}
	svc := NewService(q, limiter, nil, testLogger())

	_, err := svc.Submit(context.Background(), Upload{Data: pdftest.Build("x"), ClientIP: "10.0.0.9"})

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, ratelimit.LevelIP, limitErr.Level)
	assert.Equal(t, 90*time.Second, limitErr.RetryAfter)
	assert.Contains(t, err.Error(), "1m30s")
	assert.Empty(t, limiter.seen, "a denied upload is not counted")
}

func TestSubmitUnreadablePDFUsesNoQuota(t *testing.T) {
	q := newTestQueue(t)
	limiter := &fakeLimiter{result: &ratelimit.Result{Allowed: true}}
	svc := NewService(q, limiter, nil, testLogger())

	_, err := svc.Submit(context.Background(), Upload{
		Data:     []byte("%PDF-1.4\nthis is not really a pdf\n%%EOF\n"),
		ClientIP: "10.0.0.9",
	})
	require.Error(t, err)
	assert.Equal(t, 1, limiter.checked)
	assert.Empty(t, limiter.seen)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestSubmitCountsWithRealLimiter(t *testing.T) {
	q := newTestQueue(t)
	limiter, err := ratelimit.NewLimiter(q.DB(), &ratelimit.Config{DefaultIP: &ratelimit.LimitConfig{RunsPerHour: 1}})
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Stop() })
	svc := NewService(q, limiter, nil, testLogger())

	bad := Upload{Data: []byte("%PDF-1.4\nthis is not really a pdf\n%%EOF\n"), ClientIP: "10.0.0.9"}
	good := Upload{Data: pdftest.Build("Bunker"), ClientIP: "10.0.0.9"}

	_, err = svc.Submit(context.Background(), bad)
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), good)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), good)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ratelimit.LevelIP, limitErr.Level)
}

func TestSubmitLimiterError(t *testing.T) {
	svc := NewService(newTestQueue(t), &fakeLimiter{err: errors.New("bolt closed")}, nil, testLogger())

	_, err := svc.Submit(context.Background(), Upload{Data: pdftest.Build("x")})
	assert.ErrorContains(t, err, "bolt closed")
}

type fakeExtractor struct {
	in  extract.Input
	err error
}

func (f *fakeExtractor) Run(ctx context.Context, in extract.Input, onStage extract.StageFunc) (*models.Batch, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	onStage(extract.StageSaving)
	return &models.Batch{ID: "batch-1"}, nil
}

func TestRunner(t *testing.T) {
	ex := &fakeExtractor{}
	r := NewRunner(ex)

	var stages []string
	id, err := r.RunJob(context.Background(), &queue.Job{
		PDFText:    "text",
		TargetList: "targets",
		IssueDate:  "01/02/2026",
		FileName:   "a.pdf",
	}, func(s string) { stages = append(stages, s) })
	require.NoError(t, err)

	assert.Equal(t, "batch-1", id)
	assert.Equal(t, extract.Input{PDFText: "text", TargetList: "targets", IssueDate: "01/02/2026", FileName: "a.pdf"}, ex.in)
	assert.Equal(t, []string{extract.StageSaving}, stages)

	ex.err = extract.ErrNoText
	_, err = r.RunJob(context.Background(), &queue.Job{}, func(string) {})
	assert.ErrorIs(t, err, extract.ErrNoText)
}
