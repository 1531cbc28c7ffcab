// Package intake turns uploaded PDFs into queued extraction jobs and runs
// queued jobs through the extractor.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/gridline/internal/extract"
	"github.com/foxzi/gridline/internal/metrics"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/pdftext"
	"github.com/foxzi/gridline/internal/queue"
	"github.com/foxzi/gridline/internal/ratelimit"
)

var (
	// ErrNotPDF is returned for uploads that are not PDF documents
	ErrNotPDF = pdftext.ErrNotPDF
	// ErrNoText is returned for PDFs without extractable text
	ErrNoText = pdftext.ErrNoText
	// ErrEmptyUpload is returned when no file content was sent
	ErrEmptyUpload = errors.New("no file uploaded")
)

// LimitError reports a rejected submission
type LimitError struct {
	Level      ratelimit.Level
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry in %s", e.Level, e.RetryAfter.Round(time.Second))
}

// Limiter decides whether another run may be accepted. Check does not
// count the run; Allow does.
type Limiter interface {
	Check(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// Notifier wakes the job processor
type Notifier interface {
	Notify()
}

// Upload is one submitted PDF with its run parameters
type Upload struct {
	FileName   string
	Data       []byte
	IssueDate  string
	TargetList string
	ClientIP   string
	APIKey     string
}

// Service accepts uploads
type Service struct {
	queue    queue.Queue
	limiter  Limiter
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an intake service. limiter and notifier may be nil.
func NewService(q queue.Queue, limiter Limiter, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		queue:    q,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger.With("component", "intake"),
		now:      time.Now,
	}
}

// Submit validates an upload, extracts its text and queues a job
func (s *Service) Submit(ctx context.Context, u Upload) (*queue.Job, error) {
	if len(u.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if !pdftext.IsPDF(u.Data) {
		return nil, ErrNotPDF
	}

	date, err := models.ParseIssueDate(u.IssueDate, s.now())
	if err != nil {
		return nil, err
	}

	limitReq := &ratelimit.Request{IP: u.ClientIP, APIKey: u.APIKey}
	if err := s.checkLimit(ctx, limitReq, false); err != nil {
		return nil, err
	}

	text, err := pdftext.FromBytes(u.Data)
	if err != nil {
		return nil, err
	}

	// only uploads that will be queued use up quota
	if err := s.checkLimit(ctx, limitReq, true); err != nil {
		return nil, err
	}

	job := &queue.Job{
		ID:         uuid.New().String(),
		FileName:   strings.TrimSpace(u.FileName),
		IssueDate:  models.FormatIssueDate(date),
		TargetList: u.TargetList,
		PDFText:    text,
		ClientIP:   u.ClientIP,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("extraction job queued",
		"id", job.ID,
		"file", job.FileName,
		"issue_date", job.IssueDate,
		"text_bytes", len(text))

	if s.notifier != nil {
		s.notifier.Notify()
	}
	return job, nil
}

// checkLimit consults the limiter, counting the run when count is set
func (s *Service) checkLimit(ctx context.Context, req *ratelimit.Request, count bool) error {
	if s.limiter == nil {
		return nil
	}

	check := s.limiter.Check
	if count {
		check = s.limiter.Allow
	}
	res, err := check(ctx, req)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !res.Allowed {
		metrics.IncRateLimitExceeded(string(res.DeniedBy))
		s.logger.Warn("submission rate limited",
			"level", res.DeniedBy,
			"client_ip", req.IP,
			"retry_after", res.RetryAfter)
		return &LimitError{Level: res.DeniedBy, RetryAfter: res.RetryAfter}
	}
	return nil
}

// Extractor runs one extraction
type Extractor interface {
	Run(ctx context.Context, in extract.Input, onStage extract.StageFunc) (*models.Batch, error)
}

// Runner feeds queued jobs to an Extractor
type Runner struct {
	ex Extractor
}

// NewRunner creates a queue.Runner backed by ex
func NewRunner(ex Extractor) *Runner {
	return &Runner{ex: ex}
}

// RunJob extracts the job's text and returns the stored batch id
func (r *Runner) RunJob(ctx context.Context, job *queue.Job, onStage func(string)) (string, error) {
	batch, err := r.ex.Run(ctx, extract.Input{
		PDFText:    job.PDFText,
		TargetList: job.TargetList,
		IssueDate:  job.IssueDate,
		FileName:   job.FileName,
	}, onStage)
	if err != nil {
		return "", err
	}
	return batch.ID, nil
}
