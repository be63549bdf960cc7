// Package store defines the persistence contract for the story lifecycle
// engine. Implementations live under internal/store/<driver>/ (postgres,
// sqlite) and are exercised by the shared storetest compliance suite.
package store

import (
	"context"
	"time"

	"github.com/glimmerlabs/glimmer/internal/model"
)

// Store exposes persistence operations required by the lifecycle engine.
type Store interface {
	Stories() Stories
	Engagement() Engagement
	Tasks() Tasks
}

// Stories persists story records, their wrapped-key tables, and the feed
// read path.
type Stories interface {
	// Create inserts the story (unpublished), its wrapped-key entries, and
	// its deletion task in a single transaction. Either everything is
	// durable or nothing is.
	Create(ctx context.Context, rec *model.StoryRecord, task *model.DeletionTask) error
	// Publish flips the story visible to the feed after creation fully
	// succeeded.
	Publish(ctx context.Context, storyID string) error
	// Get returns the story with its counters, or model.ErrNotFound. The
	// wrapped-key table is not loaded; use WrappedKey.
	Get(ctx context.Context, storyID string) (*model.StoryRecord, error)
	// WrappedKey returns one viewer's wrapped key entry. Missing entry for
	// an existing story is model.ErrNotAViewer; missing story is
	// model.ErrNotFound.
	WrappedKey(ctx context.Context, storyID, viewerID string) ([]byte, error)
	// Feed returns a page of published, unexpired stories ordered by
	// creation time descending, story id ascending on ties.
	Feed(ctx context.Context, req model.FeedRequest) ([]*model.StoryRecord, error)
	// Purge removes the story row, wrapped keys, engagement events, and
	// counters in one transaction. found=false when the story was already
	// absent; that is a success, not an error.
	Purge(ctx context.Context, storyID string) (mediaRef string, found bool, err error)
}

// Engagement implements the record-once counting protocol.
type Engagement interface {
	// Record inserts the (story, viewer, kind) event if absent and bumps the
	// matching counter in the same transaction. A duplicate returns
	// accepted=false with the unchanged counters. Missing story is
	// model.ErrNotFound.
	Record(ctx context.Context, storyID, viewerID string, kind model.EventKind) (accepted bool, c model.Counters, err error)
	// Counters returns the story's aggregate counters.
	Counters(ctx context.Context, storyID string) (model.Counters, error)
}

// Tasks persists deletion triggers with at-least-once delivery bookkeeping.
type Tasks interface {
	// Lease atomically claims up to limit due pending tasks, bumping each
	// task's attempt count and last-attempt instant.
	Lease(ctx context.Context, now time.Time, limit int) ([]*model.DeletionTask, error)
	// Reschedule moves a failed delivery's fire time forward for retry.
	Reschedule(ctx context.Context, storyID string, nextFire time.Time) error
	// DeadLetter parks a task that exhausted its attempts; it stays visible
	// for external intervention and is never leased again.
	DeadLetter(ctx context.Context, storyID string) error
	// Confirm removes the task after a successful purge.
	Confirm(ctx context.Context, storyID string) error
	// Get returns a task by story id, or model.ErrNotFound.
	Get(ctx context.Context, storyID string) (*model.DeletionTask, error)
}
