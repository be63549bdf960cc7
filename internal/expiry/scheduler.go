// Package expiry implements the deletion-trigger worker. It polls the
// deletion task table, leases due tasks, and drives the purge of expired
// stories with at-least-once delivery semantics: a task is removed only
// after its purge is confirmed, failed deliveries are rescheduled with
// capped exponential backoff, and tasks that exhaust their attempt budget
// are dead-lettered for external intervention.
package expiry

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// Purger removes all durable traces of a story. Must be idempotent: the
// worker can deliver the same trigger more than once.
type Purger interface {
	Purge(ctx context.Context, storyID string) error
}

// Config controls batch size, polling cadence, and the retry policy.
type Config struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
	// RetryBase is the first retry delay; doubled per attempt up to RetryCap.
	RetryBase time.Duration
	RetryCap  time.Duration
}

// Worker polls for due deletion tasks and purges the stories they name.
type Worker struct {
	tasks  store.Tasks
	purger Purger
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time

	attempts    prometheus.Counter
	failures    prometheus.Counter
	deadLetters prometheus.Counter
}

// NewWorker constructs a Worker. Metrics are registered on reg; pass
// prometheus.DefaultRegisterer outside tests.
func NewWorker(tasks store.Tasks, purger Purger, cfg Config, log zerolog.Logger, reg prometheus.Registerer) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 30 * time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 15 * time.Minute
	}

	w := &Worker{
		tasks:  tasks,
		purger: purger,
		cfg:    cfg,
		log:    log.With().Str("component", "expiry-worker").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glimmer_purge_attempts_total",
			Help: "Deletion trigger deliveries attempted.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glimmer_purge_failures_total",
			Help: "Deletion trigger deliveries that failed and were rescheduled.",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glimmer_purge_dead_letters_total",
			Help: "Deletion tasks parked after exhausting their attempt budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(w.attempts, w.failures, w.deadLetters)
	}
	return w
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("expiry worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("expiry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				// log and keep polling; per-task backoff prevents hot-looping
				w.log.Error().Err(err).Msg("expiry cycle failed")
			}
		}
	}
}

// ProcessOnce leases and handles one batch of due tasks. Exported for tests
// and for one-shot invocation from the CLI.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	now := w.now()
	leased, err := w.tasks.Lease(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "lease deletion tasks")
	}

	for _, task := range leased {
		w.attempts.Inc()
		if err := w.purger.Purge(ctx, task.StoryID); err != nil {
			w.fail(ctx, task, err)
			continue
		}
		if err := w.tasks.Confirm(ctx, task.StoryID); err != nil {
			// purge succeeded but confirmation did not; the task re-fires
			// and the idempotent purge absorbs the redelivery
			w.log.Error().Err(err).Str("story_id", task.StoryID).Msg("confirm failed, task will re-fire")
			continue
		}
		w.log.Info().Str("story_id", task.StoryID).Int("attempts", task.Attempts).Msg("story purged")
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, task *model.DeletionTask, cause error) {
	w.failures.Inc()
	wrapped := errors.Wrapf(model.ErrSchedulerDelivery, "attempt %d for story %s: %v", task.Attempts, task.StoryID, cause)

	if task.Attempts >= w.cfg.MaxAttempts {
		w.deadLetters.Inc()
		w.log.Error().Err(wrapped).Str("story_id", task.StoryID).Msg("attempt budget exhausted, dead-lettering")
		if err := w.tasks.DeadLetter(ctx, task.StoryID); err != nil {
			w.log.Error().Err(err).Str("story_id", task.StoryID).Msg("dead-letter failed")
		}
		return
	}

	next := w.now().Add(w.backoffDelay(task.Attempts))
	w.log.Warn().Err(wrapped).Str("story_id", task.StoryID).Time("next_fire", next).Msg("purge failed, rescheduling")
	if err := w.tasks.Reschedule(ctx, task.StoryID, next); err != nil {
		w.log.Error().Err(err).Str("story_id", task.StoryID).Msg("reschedule failed")
	}
}

func (w *Worker) backoffDelay(attempts int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempts-1))) * w.cfg.RetryBase
	if d > w.cfg.RetryCap || d <= 0 {
		return w.cfg.RetryCap
	}
	return d
}
