// Package feed implements the paginated story feed: keyset cursor encoding
// plus the read path over the store with expiry filtered at read time.
package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// DefaultPageSize applies when the caller does not request a size.
const DefaultPageSize = 20

// MaxPageSize caps a single page.
const MaxPageSize = 100

// cursor is the keyset position after the last story of the previous page.
type cursor struct {
	CreationTime time.Time `json:"creationTime"`
	StoryID      string    `json:"storyId"`
}

func encodeCursor(c cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, errors.Wrap(model.ErrValidation, "malformed feed cursor")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, errors.Wrap(model.ErrValidation, "malformed feed cursor")
	}
	if c.StoryID == "" || c.CreationTime.IsZero() {
		return cursor{}, errors.Wrap(model.ErrValidation, "incomplete feed cursor")
	}
	return c, nil
}

// Index serves feed pages.
type Index struct {
	stories store.Stories
	now     func() time.Time
}

// New builds a feed index over the stories store.
func New(stories store.Stories) *Index {
	return &Index{stories: stories, now: func() time.Time { return time.Now().UTC() }}
}

// NewWithClock builds an index with an injected clock.
func NewWithClock(stories store.Stories, now func() time.Time) *Index {
	return &Index{stories: stories, now: now}
}

// Page returns one feed page ordered by creation time descending with story
// id ascending on ties. An empty cursorToken starts from the newest story.
// nextCursor is empty when the feed is exhausted.
//
// Expired stories never surface regardless of whether their physical purge
// has run yet; the filter uses the read-time clock.
func (i *Index) Page(ctx context.Context, cursorToken string, pageSize int, visibility model.Visibility) ([]*model.StoryRecord, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	req := model.FeedRequest{
		Visibility: visibility,
		PageSize:   pageSize,
		Now:        i.now(),
	}
	if cursorToken != "" {
		c, err := decodeCursor(cursorToken)
		if err != nil {
			return nil, "", err
		}
		req.AfterCreationTime = c.CreationTime
		req.AfterStoryID = c.StoryID
	}

	page, err := i.stories.Feed(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if len(page) < pageSize {
		return page, "", nil
	}
	last := page[len(page)-1]
	next, err := encodeCursor(cursor{CreationTime: last.CreationTime, StoryID: last.StoryID})
	if err != nil {
		return nil, "", err
	}
	return page, next, nil
}
