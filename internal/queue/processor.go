package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner executes one job and returns the id of the stored batch
type Runner interface {
	RunJob(ctx context.Context, job *Job, onStage func(stage string)) (string, error)
}

// ErrorChecker reports whether a failed job should be retried
type ErrorChecker func(err error) bool

// StageRecorder persists progress stages; BoltStorage implements it
type StageRecorder interface {
	SetStage(ctx context.Context, id, stage string) error
}

// Processor runs queued extraction jobs
type Processor struct {
	queue           Queue
	runner          Runner
	workers         int
	retryInterval   time.Duration
	maxRetries      int
	processInterval time.Duration
	jobTimeout      time.Duration
	isTemporary     ErrorChecker
	logger          *slog.Logger

	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	ProcessInterval time.Duration
	JobTimeout      time.Duration
}

// NewProcessor creates a new queue processor
func NewProcessor(q Queue, runner Runner, cfg ProcessorConfig, isTemp ErrorChecker, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if isTemp == nil {
		isTemp = func(err error) bool { return false }
	}

	return &Processor{
		queue:           q,
		runner:          runner,
		workers:         cfg.Workers,
		retryInterval:   cfg.RetryInterval,
		maxRetries:      cfg.MaxRetries,
		processInterval: cfg.ProcessInterval,
		jobTimeout:      cfg.JobTimeout,
		isTemporary:     isTemp,
		logger:          logger,
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting job processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping job processor")
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info("job processor stopped")
}

// Notify wakes an idle worker without waiting for the next tick
func (p *Processor) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
		case <-p.wake:
		}

		// drain the queue before waiting again
		for p.processOne(ctx, logger) {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			default:
			}
		}
	}
}

// processOne runs a single job and reports whether one was found
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) bool {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue job", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	logger = logger.With("job_id", job.ID, "file", job.FileName)
	logger.Info("processing job", "retry_count", job.RetryCount)

	onStage := func(stage string) {
		rec, ok := p.queue.(StageRecorder)
		if !ok {
			return
		}
		if err := rec.SetStage(ctx, job.ID, stage); err != nil {
			logger.Warn("failed to record stage", "stage", stage, "error", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	batchID, err := p.runner.RunJob(runCtx, job, onStage)
	cancel()

	// reload to pick up stages written during the run
	if fresh, gerr := p.queue.Get(ctx, job.ID); gerr == nil && fresh != nil {
		job.Stage = fresh.Stage
	} else if gerr == nil && fresh == nil {
		logger.Info("job deleted while running")
		return true
	}

	if err == nil {
		job.Status = StatusDone
		job.BatchID = batchID
		job.LastError = ""
		job.Stage = ""
		if err := p.queue.Update(ctx, job); err != nil {
			logger.Error("failed to update job status", "error", err)
		}
		logger.Info("job done", "batch_id", batchID)
		return true
	}

	// shutting down: hand the job back without counting an attempt
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		job.Status = StatusDeferred
		job.NextRetryAt = time.Now()
		job.Stage = ""
		if err := p.queue.Update(context.WithoutCancel(ctx), job); err != nil {
			logger.Error("failed to requeue job", "error", err)
		}
		logger.Info("job interrupted by shutdown")
		return false
	}

	logger.Warn("job failed", "error", err, "retry_count", job.RetryCount)

	job.RetryCount++
	job.LastError = err.Error()
	job.Stage = ""

	if p.isTemporary(err) && job.RetryCount < p.maxRetries {
		backoff := p.calculateBackoff(job.RetryCount)
		job.Status = StatusDeferred
		job.NextRetryAt = time.Now().Add(backoff)

		logger.Info("job deferred",
			"retry_count", job.RetryCount,
			"next_retry_at", job.NextRetryAt,
			"backoff", backoff,
		)
	} else {
		job.Status = StatusFailed
		logger.Error("job failed permanently",
			"retry_count", job.RetryCount,
			"max_retries", p.maxRetries,
		)
	}

	if err := p.queue.Update(ctx, job); err != nil {
		logger.Error("failed to update job status", "error", err)
	}
	return true
}

// calculateBackoff returns retry_interval * 2^(retry_count-1), capped at 1 hour
func (p *Processor) calculateBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	multiplier := 1 << (retryCount - 1)
	if multiplier > 12 {
		multiplier = 12
	}

	backoff := time.Duration(multiplier) * p.retryInterval

	maxBackoff := time.Hour
	if backoff > maxBackoff {
		return maxBackoff
	}

	return backoff
}
