package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

// JobReader reads up to batchSize queued jobs. An empty batch means none
// arrived within the reader's wait interval.
type JobReader interface {
	ReadJobs(ctx context.Context, batchSize int) ([]domain.JobMessage, error)
}

// JobHandler runs a single job.
type JobHandler interface {
	Handle(ctx context.Context, job domain.Job) (any, error)
}

// ResultWriter publishes job results.
type ResultWriter interface {
	WriteResults(ctx context.Context, results []domain.JobResult) error
}

// Runner consumes batch trigger jobs from a queue, runs them, and publishes
// one result per job.
type Runner struct {
	reader    JobReader
	handler   JobHandler
	writer    ResultWriter
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// NewRunner creates a Runner.
func NewRunner(r JobReader, h JobHandler, w ResultWriter, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Runner {
	return &Runner{
		reader:    r,
		handler:   h,
		writer:    w,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the runner has completed a read from the
// job queue.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("runner has not reached the job queue yet")
	}
	return nil
}

// Run consumes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("job runner started", "batch_size", r.batchSize)
	r.metrics.WorkerRunning.Set(1)
	defer r.metrics.WorkerRunning.Set(0)

	// Start at 200ms, double on each failure, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !r.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch reads, runs, publishes, and commits one batch. Returns false
// if the runner should stop. Messages returned alongside a read error are
// still run: the consumer has already moved past them.
func (r *Runner) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, readErr := r.reader.ReadJobs(ctx, r.batchSize)
	if readErr != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("read jobs failed", "error", readErr, "fetched", len(batch))
		if len(batch) == 0 {
			return r.backoffOrStop(ctx, backoff, maxBackoff)
		}
	} else {
		r.ready.Store(true)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	r.metrics.JobsConsumed.Add(float64(len(batch)))

	results := make([]domain.JobResult, 0, len(batch))
	for _, msg := range batch {
		results = append(results, r.runJob(ctx, msg))
	}
	// Jobs interrupted by shutdown are redelivered rather than reported.
	if ctx.Err() != nil {
		return false
	}

	if err := r.writer.WriteResults(ctx, results); err != nil {
		r.logger.Error("write job results failed", "error", err, "batch_size", len(results))
		return r.backoffOrStop(ctx, backoff, maxBackoff)
	}

	for _, msg := range batch {
		r.commitOffset(ctx, msg)
	}

	if readErr != nil {
		return r.backoffOrStop(ctx, backoff, maxBackoff)
	}
	*backoff = 200 * time.Millisecond
	return true
}

// runJob turns one message into a result. Undecodable or invalid jobs are
// reported as invalid rather than retried.
func (r *Runner) runJob(ctx context.Context, msg domain.JobMessage) domain.JobResult {
	job := msg.Job
	res := domain.JobResult{JobID: job.ID, Kind: job.Kind}
	label := string(job.Kind)
	if label == "" {
		label = "unknown"
	}

	invalid := msg.DecodeErr
	if invalid == nil {
		invalid = job.Validate()
	}
	if invalid != nil {
		r.logger.Warn("invalid job, skipping",
			"error", invalid,
			"job_id", job.ID,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		r.metrics.JobResults.WithLabelValues(label, "invalid").Inc()
		res.Status = domain.JobInvalid
		res.Error = invalid.Error()
		res.CompletedAt = r.clock.Now().UTC()
		return res
	}

	start := r.clock.Now()
	log := r.logger.With("job_id", job.ID, "kind", job.Kind)
	log.Info("job started")

	out, err := r.handler.Handle(ctx, job)
	r.metrics.JobDuration.WithLabelValues(label).Observe(r.clock.Since(start).Seconds())

	res.Output = out
	res.CompletedAt = r.clock.Now().UTC()
	if err != nil {
		log.Error("job failed", "error", err)
		r.metrics.JobResults.WithLabelValues(label, "error").Inc()
		res.Status = domain.JobFailed
		res.Error = err.Error()
		return res
	}
	log.Info("job complete", "duration", r.clock.Since(start))
	r.metrics.JobResults.WithLabelValues(label, "success").Inc()
	res.Status = domain.JobSucceeded
	return res
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the runner should stop.
func (r *Runner) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

func (r *Runner) commitOffset(ctx context.Context, msg domain.JobMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		r.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}
