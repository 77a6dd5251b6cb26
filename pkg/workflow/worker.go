package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mcclellann/loanengine/pkg/store"
)

// Worker drains start_workflow jobs from the outbox and hands them to a
// Starter, retrying failures with linear backoff.
type Worker struct {
	outbox       store.Outbox
	starter      Starter
	logger       *slog.Logger
	batchSize    int32
	maxAttempts  int32
	now          func() time.Time
	retryBackoff func(attempt int32) time.Duration
}

// WorkerConfig tunes a Worker. Zero values fall back to defaults.
type WorkerConfig struct {
	BatchSize   int32
	MaxAttempts int32
}

func NewWorker(outbox store.Outbox, starter Starter, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		outbox:      outbox,
		starter:     starter,
		logger:      logger,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		retryBackoff: func(attempt int32) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt*15) * time.Second
		},
	}
}

// RunOnce claims one batch and processes it. It returns the number of jobs
// claimed. Delivery failures are recorded on the job, not returned.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.outbox.ClaimPendingOutbox(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			return len(jobs), err
		}
	}
	return len(jobs), nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("outbox run failed", "err", err)
			} else if n > 0 {
				w.logger.Debug("outbox batch processed", "jobs", n)
			}
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job store.OutboxJob) error {
	switch job.Topic {
	case TopicStartWorkflow:
		return w.processStartWorkflow(ctx, job)
	default:
		return w.handleJobError(ctx, job, errors.New("unsupported_topic"))
	}
}

func (w *Worker) processStartWorkflow(ctx context.Context, job store.OutboxJob) error {
	var req Request
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return w.handleJobError(ctx, job, errors.New("invalid_payload"))
	}
	if req.EntityID == "" {
		return w.handleJobError(ctx, job, errors.New("missing_entity_id"))
	}

	if err := w.starter.StartWorkflow(ctx, req); err != nil {
		return w.handleJobError(ctx, job, err)
	}

	w.logger.Info("workflow started", "job_id", job.ID, "kind", req.Kind, "entity_id", req.EntityID)
	return w.outbox.MarkOutboxDone(ctx, job.ID)
}

func (w *Worker) handleJobError(ctx context.Context, job store.OutboxJob, err error) error {
	msg := err.Error()
	if job.Attempts >= w.maxAttempts {
		w.logger.Error("outbox job failed permanently", "job_id", job.ID, "topic", job.Topic, "attempts", job.Attempts, "err", msg)
		return w.outbox.MarkOutboxFailed(ctx, job.ID, msg)
	}
	next := w.now().Add(w.retryBackoff(job.Attempts))
	w.logger.Warn("outbox job will be retried", "job_id", job.ID, "topic", job.Topic, "attempts", job.Attempts, "next", next, "err", msg)
	return w.outbox.MarkOutboxRetry(ctx, job.ID, next, msg)
}
