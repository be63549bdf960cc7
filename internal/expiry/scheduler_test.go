package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
	"github.com/glimmerlabs/glimmer/internal/store/sqlite"
)

type purgeFunc func(ctx context.Context, storyID string) error

func (f purgeFunc) Purge(ctx context.Context, storyID string) error { return f(ctx, storyID) }

func newStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Bootstrap(context.Background(), db))
	return sqlite.NewWithDB(db)
}

func seedDueTask(t *testing.T, s store.Store, storyID string, now time.Time) {
	t.Helper()
	rec := &model.StoryRecord{
		StoryID:      storyID,
		OwnerID:      "owner",
		Kind:         model.KindImage,
		Visibility:   model.VisibilityPublic,
		MediaRef:     "blob-" + storyID,
		CreationTime: now.Add(-25 * time.Hour),
		ExpiryTime:   now.Add(-time.Hour),
	}
	task := &model.DeletionTask{StoryID: storyID, FireTime: now.Add(-time.Minute), Status: model.TaskPending}
	require.NoError(t, s.Stories().Create(ctx(), rec, task))
}

func ctx() context.Context { return context.Background() }

func newWorker(t *testing.T, s store.Store, purger Purger, cfg Config, now time.Time) *Worker {
	t.Helper()
	w := NewWorker(s.Tasks(), purger, cfg, zerolog.Nop(), prometheus.NewRegistry())
	w.now = func() time.Time { return now }
	return w
}

func TestProcessOnceConfirmsSuccessfulPurge(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	seedDueTask(t, s, "s1", now)

	var purged []string
	w := newWorker(t, s, purgeFunc(func(_ context.Context, id string) error {
		purged = append(purged, id)
		return nil
	}), Config{}, now)

	require.NoError(t, w.ProcessOnce(ctx()))
	require.Equal(t, []string{"s1"}, purged)

	_, err := s.Tasks().Get(ctx(), "s1")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestProcessOnceReschedulesFailedPurge(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	seedDueTask(t, s, "s1", now)

	w := newWorker(t, s, purgeFunc(func(context.Context, string) error {
		return errors.New("blob gateway down")
	}), Config{RetryBase: time.Minute, RetryCap: time.Hour}, now)

	require.NoError(t, w.ProcessOnce(ctx()))

	task, err := s.Tasks().Get(ctx(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.TaskPending, task.Status)
	require.Equal(t, 1, task.Attempts)
	require.True(t, task.FireTime.After(now), "fire time moved forward for retry")

	// not due again until the backoff elapses
	leased, err := s.Tasks().Lease(ctx(), now, 10)
	require.NoError(t, err)
	require.Empty(t, leased)
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	seedDueTask(t, s, "s1", now)

	cfg := Config{MaxAttempts: 3, RetryBase: time.Millisecond, RetryCap: time.Millisecond}
	w := newWorker(t, s, purgeFunc(func(context.Context, string) error {
		return errors.New("still down")
	}), cfg, now)

	for i := 0; i < cfg.MaxAttempts; i++ {
		// advance past any rescheduled fire time
		w.now = func() time.Time { return now.Add(time.Duration(i+1) * time.Hour) }
		require.NoError(t, w.ProcessOnce(ctx()))
	}

	task, err := s.Tasks().Get(ctx(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.TaskDead, task.Status)

	// dead tasks are never leased again
	leased, err := s.Tasks().Lease(ctx(), now.Add(48*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, leased)
}

func TestRedeliveryAfterMissedConfirmIsAbsorbed(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	seedDueTask(t, s, "s1", now)

	calls := 0
	w := newWorker(t, s, purgeFunc(func(context.Context, string) error {
		calls++
		return nil
	}), Config{}, now)

	// simulate a crash between purge and confirm: lease + purge, no confirm
	leased, err := s.Tasks().Lease(ctx(), now, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, w.purger.Purge(ctx(), "s1"))

	// the task is still pending, so the next cycle re-fires it
	require.NoError(t, w.ProcessOnce(ctx()))
	require.Equal(t, 2, calls)
	_, err = s.Tasks().Get(ctx(), "s1")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestBackoffDelayIsCapped(t *testing.T) {
	w := NewWorker(nil, nil, Config{RetryBase: 30 * time.Second, RetryCap: 15 * time.Minute}, zerolog.Nop(), prometheus.NewRegistry())

	require.Equal(t, 30*time.Second, w.backoffDelay(1))
	require.Equal(t, time.Minute, w.backoffDelay(2))
	require.Equal(t, 8*time.Minute, w.backoffDelay(5))
	require.Equal(t, 15*time.Minute, w.backoffDelay(6))
	require.Equal(t, 15*time.Minute, w.backoffDelay(50))
}
