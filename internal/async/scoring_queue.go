package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

// ErrQueueClosed is returned by Enqueue after Shutdown started.
var ErrQueueClosed = errors.New("scoring queue is shutting down")

// Scorer is the orchestrator operation the workers call.
type Scorer interface {
	Score(ctx context.Context, essayID uuid.UUID) (*entity.Analysis, error)
}

// Stats counts finished jobs.
type Stats struct {
	Scored  int64
	Failed  int64
	Skipped int64 // another run held the essay
}

// ScoringQueue is a fixed pool of workers scoring essays from a bounded channel.
type ScoringQueue struct {
	scorer  Scorer
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool

	scored  atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

type Option func(*ScoringQueue)

func WithWorkers(n int) Option {
	return func(q *ScoringQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ScoringQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithProcessTimeout bounds each job. The orchestrator keeps the deadline
// on its detached run.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ScoringQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewScoringQueue(scorer Scorer, logger *slog.Logger, opts ...Option) *ScoringQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ScoringQueue{
		scorer:  scorer,
		logger:  logger,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ScoringQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ScoringQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	a, err := q.scorer.Score(ctx, job.EssayID)
	elapsed := time.Since(start).Milliseconds()
	switch {
	case err == nil:
		q.scored.Add(1)
		q.logger.Info("queue.score.ok", "worker_id", workerID, "essay_id", job.EssayID,
			"overall", a.OverallScore, "reason", job.Reason, "elapsed_ms", elapsed)
	case errors.Is(err, common.ErrAlreadyProcessing):
		q.skipped.Add(1)
		q.logger.Info("queue.score.skipped", "worker_id", workerID, "essay_id", job.EssayID, "error", err)
	default:
		q.failed.Add(1)
		q.logger.Error("queue.score.failed", "worker_id", workerID, "essay_id", job.EssayID,
			"kind", common.Kind(err), "error", err, "elapsed_ms", elapsed)
	}
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ScoringQueue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("enqueue essay %s: %w", job.EssayID, ErrQueueClosed)
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queue.enqueued", "essay_id", job.EssayID, "reason", job.Reason)
		return nil
	default:
	}
	q.logger.Warn("queue.full", "essay_id", job.EssayID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for the queued ones to finish, or
// for ctx to end.
func (q *ScoringQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained", "scored", q.scored.Load(), "failed", q.failed.Load(), "skipped", q.skipped.Load())
	}
}

func (q *ScoringQueue) Stats() Stats {
	return Stats{Scored: q.scored.Load(), Failed: q.failed.Load(), Skipped: q.skipped.Load()}
}
