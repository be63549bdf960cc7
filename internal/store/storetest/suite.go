// Package storetest holds the driver compliance suite. Every store
// implementation must pass it; driver packages invoke Run from their own
// tests with a factory that produces a fresh, schema-applied store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// Factory produces an isolated store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full compliance suite against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreatePublishGet", func(t *testing.T) { testCreatePublishGet(t, factory(t)) })
	t.Run("WrappedKeyAccess", func(t *testing.T) { testWrappedKeyAccess(t, factory(t)) })
	t.Run("EngagementExactlyOnce", func(t *testing.T) { testEngagementExactlyOnce(t, factory(t)) })
	t.Run("EngagementConcurrent", func(t *testing.T) { testEngagementConcurrent(t, factory(t)) })
	t.Run("FeedOrderingAndPagination", func(t *testing.T) { testFeedOrderingAndPagination(t, factory(t)) })
	t.Run("FeedExpiryFilter", func(t *testing.T) { testFeedExpiryFilter(t, factory(t)) })
	t.Run("PurgeIdempotent", func(t *testing.T) { testPurgeIdempotent(t, factory(t)) })
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, factory(t)) })
}

func newStory(visibility model.Visibility, created time.Time) (*model.StoryRecord, *model.DeletionTask) {
	rec := &model.StoryRecord{
		StoryID:      uuid.NewString(),
		OwnerID:      "owner-" + uuid.NewString()[:8],
		Kind:         model.KindImage,
		Visibility:   visibility,
		MediaRef:     "blob-" + uuid.NewString()[:8],
		Encrypted:    visibility == model.VisibilityFriends,
		CreationTime: created,
		ExpiryTime:   created.Add(24 * time.Hour),
	}
	if rec.Encrypted {
		rec.WrappedKeys = map[string][]byte{
			"alice": []byte("wrapped-for-alice"),
			"bob":   []byte("wrapped-for-bob"),
		}
	}
	task := &model.DeletionTask{
		StoryID:  rec.StoryID,
		FireTime: rec.ExpiryTime.Add(time.Hour),
		Status:   model.TaskPending,
	}
	return rec, task
}

func testCreatePublishGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec, task := newStory(model.VisibilityFriends, now)

	require.NoError(t, s.Stories().Create(ctx, rec, task))

	got, err := s.Stories().Get(ctx, rec.StoryID)
	require.NoError(t, err)
	require.Equal(t, rec.StoryID, got.StoryID)
	require.Equal(t, rec.OwnerID, got.OwnerID)
	require.Equal(t, model.VisibilityFriends, got.Visibility)
	require.True(t, got.Encrypted)
	require.False(t, got.Published, "stories start unpublished")
	require.Equal(t, model.Counters{}, got.Counters)
	require.WithinDuration(t, now, got.CreationTime, time.Millisecond)
	require.WithinDuration(t, now.Add(24*time.Hour), got.ExpiryTime, time.Millisecond)

	// the deletion task is created in the same transaction
	gotTask, err := s.Tasks().Get(ctx, rec.StoryID)
	require.NoError(t, err)
	require.Equal(t, model.TaskPending, gotTask.Status)
	require.Zero(t, gotTask.Attempts)
	require.WithinDuration(t, task.FireTime, gotTask.FireTime, time.Millisecond)

	require.NoError(t, s.Stories().Publish(ctx, rec.StoryID))
	got, err = s.Stories().Get(ctx, rec.StoryID)
	require.NoError(t, err)
	require.True(t, got.Published)

	_, err = s.Stories().Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, s.Stories().Publish(ctx, uuid.NewString()), model.ErrNotFound)
}

func testWrappedKeyAccess(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec, task := newStory(model.VisibilityFriends, time.Now().UTC())
	require.NoError(t, s.Stories().Create(ctx, rec, task))

	wrapped, err := s.Stories().WrappedKey(ctx, rec.StoryID, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte("wrapped-for-alice"), wrapped)

	// existing story, viewer outside the set
	_, err = s.Stories().WrappedKey(ctx, rec.StoryID, "mallory")
	require.ErrorIs(t, err, model.ErrNotAViewer)

	// unknown story
	_, err = s.Stories().WrappedKey(ctx, uuid.NewString(), "alice")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testEngagementExactlyOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec, task := newStory(model.VisibilityPublic, time.Now().UTC())
	require.NoError(t, s.Stories().Create(ctx, rec, task))

	accepted, c, err := s.Engagement().Record(ctx, rec.StoryID, "alice", model.EventView)
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, model.Counters{Views: 1}, c)

	// redelivery of the same event is a no-op
	accepted, c, err = s.Engagement().Record(ctx, rec.StoryID, "alice", model.EventView)
	require.NoError(t, err)
	require.False(t, accepted)
	require.Equal(t, model.Counters{Views: 1}, c)

	// a different kind from the same viewer counts
	accepted, c, err = s.Engagement().Record(ctx, rec.StoryID, "alice", model.EventLike)
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, model.Counters{Views: 1, Likes: 1}, c)

	// a different viewer counts
	accepted, c, err = s.Engagement().Record(ctx, rec.StoryID, "bob", model.EventView)
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, model.Counters{Views: 2, Likes: 1}, c)

	got, err := s.Engagement().Counters(ctx, rec.StoryID)
	require.NoError(t, err)
	require.Equal(t, model.Counters{Views: 2, Likes: 1}, got)

	_, _, err = s.Engagement().Record(ctx, uuid.NewString(), "alice", model.EventView)
	require.ErrorIs(t, err, model.ErrNotFound)

	_, _, err = s.Engagement().Record(ctx, rec.StoryID, "alice", model.EventKind("boost"))
	require.ErrorIs(t, err, model.ErrValidation)
}

func testEngagementConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec, task := newStory(model.VisibilityPublic, time.Now().UTC())
	require.NoError(t, s.Stories().Create(ctx, rec, task))

	const viewers = 8
	const deliveriesPerViewer = 5

	var wg sync.WaitGroup
	var mu sync.Mutex
	acceptedCount := 0
	for v := 0; v < viewers; v++ {
		viewerID := fmt.Sprintf("viewer-%d", v)
		for d := 0; d < deliveriesPerViewer; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				accepted, _, err := s.Engagement().Record(ctx, rec.StoryID, viewerID, model.EventView)
				require.NoError(t, err)
				if accepted {
					mu.Lock()
					acceptedCount++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	// exactly one delivery per viewer is accepted, however many raced
	require.Equal(t, viewers, acceptedCount)
	c, err := s.Engagement().Counters(ctx, rec.StoryID)
	require.NoError(t, err)
	require.Equal(t, int64(viewers), c.Views)
}

func testFeedOrderingAndPagination(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	// three distinct instants, plus two stories sharing one instant to pin
	// the tie-break ordering
	times := []time.Time{
		base.Add(-3 * time.Minute),
		base.Add(-2 * time.Minute),
		base.Add(-1 * time.Minute),
		base.Add(-1 * time.Minute),
	}
	ids := make([]string, len(times))
	for i, ct := range times {
		rec, task := newStory(model.VisibilityPublic, ct)
		rec.StoryID = fmt.Sprintf("%d-%s", i, uuid.NewString())
		task.StoryID = rec.StoryID
		require.NoError(t, s.Stories().Create(ctx, rec, task))
		require.NoError(t, s.Stories().Publish(ctx, rec.StoryID))
		ids[i] = rec.StoryID
	}

	// an unpublished story never surfaces
	draft, draftTask := newStory(model.VisibilityPublic, base)
	require.NoError(t, s.Stories().Create(ctx, draft, draftTask))

	// newest first; the two tied stories ordered by id ascending
	wantOrder := []string{ids[2], ids[3]}
	if ids[3] < ids[2] {
		wantOrder = []string{ids[3], ids[2]}
	}
	wantOrder = append(wantOrder, ids[1], ids[0])

	page, err := s.Stories().Feed(ctx, model.FeedRequest{PageSize: 10, Now: base})
	require.NoError(t, err)
	require.Len(t, page, 4)
	for i, rec := range page {
		require.Equal(t, wantOrder[i], rec.StoryID)
	}

	// paginate two at a time; pages concatenate to the full ordering with no
	// gaps or duplicates
	var walked []string
	req := model.FeedRequest{PageSize: 2, Now: base}
	for {
		page, err := s.Stories().Feed(ctx, req)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			walked = append(walked, rec.StoryID)
		}
		last := page[len(page)-1]
		req.AfterCreationTime = last.CreationTime
		req.AfterStoryID = last.StoryID
	}
	require.Equal(t, wantOrder, walked)
}

func testFeedExpiryFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	fresh, freshTask := newStory(model.VisibilityPublic, base.Add(-time.Hour))
	require.NoError(t, s.Stories().Create(ctx, fresh, freshTask))
	require.NoError(t, s.Stories().Publish(ctx, fresh.StoryID))

	stale, staleTask := newStory(model.VisibilityPublic, base.Add(-48*time.Hour))
	require.NoError(t, s.Stories().Create(ctx, stale, staleTask))
	require.NoError(t, s.Stories().Publish(ctx, stale.StoryID))

	// the stale story expired 24h after creation, long before base; it must
	// vanish from reads even though its row still exists
	page, err := s.Stories().Feed(ctx, model.FeedRequest{PageSize: 10, Now: base})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, fresh.StoryID, page[0].StoryID)

	// a story expiring exactly at the read instant is already gone
	page, err = s.Stories().Feed(ctx, model.FeedRequest{PageSize: 10, Now: fresh.ExpiryTime})
	require.NoError(t, err)
	require.Empty(t, page)

	// visibility filter
	friends, friendsTask := newStory(model.VisibilityFriends, base.Add(-time.Minute))
	require.NoError(t, s.Stories().Create(ctx, friends, friendsTask))
	require.NoError(t, s.Stories().Publish(ctx, friends.StoryID))

	page, err = s.Stories().Feed(ctx, model.FeedRequest{Visibility: model.VisibilityFriends, PageSize: 10, Now: base})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, friends.StoryID, page[0].StoryID)
}

func testPurgeIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec, task := newStory(model.VisibilityFriends, time.Now().UTC())
	require.NoError(t, s.Stories().Create(ctx, rec, task))
	require.NoError(t, s.Stories().Publish(ctx, rec.StoryID))
	_, _, err := s.Engagement().Record(ctx, rec.StoryID, "alice", model.EventView)
	require.NoError(t, err)

	mediaRef, found, err := s.Stories().Purge(ctx, rec.StoryID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.MediaRef, mediaRef)

	// row, keys, and events are gone
	_, err = s.Stories().Get(ctx, rec.StoryID)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Stories().WrappedKey(ctx, rec.StoryID, "alice")
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Engagement().Counters(ctx, rec.StoryID)
	require.ErrorIs(t, err, model.ErrNotFound)

	// redelivered purge is a clean no-op
	mediaRef, found, err = s.Stories().Purge(ctx, rec.StoryID)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, mediaRef)
}

func testTaskLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	due, dueTask := newStory(model.VisibilityPublic, now.Add(-30*time.Hour))
	dueTask.FireTime = now.Add(-time.Minute)
	require.NoError(t, s.Stories().Create(ctx, due, dueTask))

	future, futureTask := newStory(model.VisibilityPublic, now)
	require.NoError(t, s.Stories().Create(ctx, future, futureTask))

	// only the due task is leased, and leasing bumps its bookkeeping
	leased, err := s.Tasks().Lease(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, due.StoryID, leased[0].StoryID)
	require.Equal(t, 1, leased[0].Attempts)
	require.NotNil(t, leased[0].LastAttemptTime)

	// rescheduling pushes the fire time past now; the task is not due again
	require.NoError(t, s.Tasks().Reschedule(ctx, due.StoryID, now.Add(time.Hour)))
	leased, err = s.Tasks().Lease(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, leased)

	// once it comes due again it is leased with attempts accumulated
	leased, err = s.Tasks().Lease(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, 2, leased[0].Attempts)

	// dead-lettered tasks stay visible but are never leased
	require.NoError(t, s.Tasks().DeadLetter(ctx, due.StoryID))
	leased, err = s.Tasks().Lease(ctx, now.Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, leased)
	dead, err := s.Tasks().Get(ctx, due.StoryID)
	require.NoError(t, err)
	require.Equal(t, model.TaskDead, dead.Status)

	// confirming removes the row entirely
	futureLeased, err := s.Tasks().Lease(ctx, futureTask.FireTime.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, futureLeased, 1)
	require.NoError(t, s.Tasks().Confirm(ctx, future.StoryID))
	_, err = s.Tasks().Get(ctx, future.StoryID)
	require.ErrorIs(t, err, model.ErrNotFound)
}
