// Package lifecycle is the write-side orchestrator: it ties the friend-graph
// resolver, key manager, content codec, blob store, and persistence layer
// together for story creation, viewing, and purge.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/glimmerlabs/glimmer/internal/blob"
	"github.com/glimmerlabs/glimmer/internal/contentcodec"
	"github.com/glimmerlabs/glimmer/internal/friendgraph"
	"github.com/glimmerlabs/glimmer/internal/keymanager"
	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// CreateRequest carries everything needed to publish a story.
type CreateRequest struct {
	OwnerID    string
	Media      []byte
	Caption    string
	Kind       model.ContentKind
	Visibility model.Visibility
}

// ViewResult is a decrypted (or plain) story as served to one viewer.
type ViewResult struct {
	Story   *model.StoryRecord
	Media   []byte
	Caption string
}

// Coordinator drives the story lifecycle end to end.
type Coordinator struct {
	store    store.Store
	blobs    blob.Store
	resolver friendgraph.Resolver
	log      zerolog.Logger

	ttl    time.Duration
	bucket time.Duration
	now    func() time.Time
}

// New builds a Coordinator. ttl is how long stories live; bucket is the
// scheduling granularity deletion triggers are rounded up to.
func New(s store.Store, blobs blob.Store, resolver friendgraph.Resolver, ttl, bucket time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		blobs:    blobs,
		resolver: resolver,
		log:      log.With().Str("component", "lifecycle").Logger(),
		ttl:      ttl,
		bucket:   bucket,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the coordinator's clock. Test hook.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) validateCreate(req CreateRequest) error {
	switch {
	case req.OwnerID == "":
		return errors.Wrap(model.ErrValidation, "ownerId is required")
	case len(req.Media) == 0:
		return errors.Wrap(model.ErrValidation, "media is required")
	case req.Kind != model.KindImage && req.Kind != model.KindVideo:
		return errors.Wrapf(model.ErrValidation, "unknown content kind %q", req.Kind)
	case req.Visibility != model.VisibilityPublic && req.Visibility != model.VisibilityFriends:
		return errors.Wrapf(model.ErrValidation, "unknown visibility %q", req.Visibility)
	}
	return nil
}

// CreateStory runs the full creation pipeline. For friends visibility the
// owner's viewer set is resolved and frozen into the story's wrapped-key
// table; media and caption are sealed before leaving this process. The story
// record, key table, and deletion trigger are persisted in one transaction
// and the story becomes feed-visible only after everything else succeeded.
func (c *Coordinator) CreateStory(ctx context.Context, req CreateRequest) (*model.StoryRecord, error) {
	if err := c.validateCreate(req); err != nil {
		return nil, err
	}

	now := c.now()
	rec := &model.StoryRecord{
		StoryID:      uuid.NewString(),
		OwnerID:      req.OwnerID,
		Kind:         req.Kind,
		Visibility:   req.Visibility,
		CreationTime: now,
		ExpiryTime:   now.Add(c.ttl),
	}

	payload := req.Media
	if req.Visibility == model.VisibilityFriends {
		viewers, err := c.resolver.ResolveViewers(ctx, req.OwnerID)
		if err != nil {
			return nil, errors.Wrap(err, "resolve viewers")
		}
		key, wrapped, err := keymanager.CreateStoryKey(viewers)
		if err != nil {
			return nil, err
		}
		sealed, err := contentcodec.Encrypt(req.Media, req.Caption, key)
		if err != nil {
			return nil, err
		}
		rec.Encrypted = true
		rec.WrappedKeys = wrapped
		payload = sealed
	} else if req.Caption != "" {
		caption := req.Caption
		rec.Caption = &caption
	}

	mediaRef, err := c.blobs.Put(ctx, payload)
	if err != nil {
		return nil, errors.Wrap(err, "store media")
	}
	rec.MediaRef = mediaRef

	task := &model.DeletionTask{
		StoryID:  rec.StoryID,
		FireTime: roundUp(rec.ExpiryTime, c.bucket),
		Status:   model.TaskPending,
	}

	if err := c.store.Stories().Create(ctx, rec, task); err != nil {
		// nothing durable was committed; reclaim the uploaded blob
		if derr := c.blobs.Delete(ctx, mediaRef); derr != nil {
			c.log.Warn().Err(derr).Str("media_ref", mediaRef).Msg("orphan blob cleanup failed")
		}
		return nil, errors.Wrap(err, "persist story")
	}
	if err := c.store.Stories().Publish(ctx, rec.StoryID); err != nil {
		return nil, errors.Wrap(err, "publish story")
	}
	rec.Published = true

	c.log.Info().
		Str("story_id", rec.StoryID).
		Str("owner_id", rec.OwnerID).
		Str("visibility", string(rec.Visibility)).
		Time("expiry_time", rec.ExpiryTime).
		Time("fire_time", task.FireTime).
		Msg("story created")
	return rec, nil
}

// roundUp rounds t up to the next bucket boundary. A trigger never fires
// before the story's expiry instant.
func roundUp(t time.Time, bucket time.Duration) time.Time {
	rounded := t.Truncate(bucket)
	if rounded.Before(t) {
		rounded = rounded.Add(bucket)
	}
	return rounded
}

// GetStory returns the story metadata if it is published and unexpired.
// Expired stories read as absent even before their physical purge runs.
func (c *Coordinator) GetStory(ctx context.Context, storyID string) (*model.StoryRecord, error) {
	rec, err := c.store.Stories().Get(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if !rec.Published || rec.Expired(c.now()) {
		return nil, model.ErrNotFound
	}
	return rec, nil
}

// MediaPayload returns the stored payload bytes for a story: sealed
// ciphertext for friends stories, plain media for public ones.
func (c *Coordinator) MediaPayload(ctx context.Context, rec *model.StoryRecord) ([]byte, error) {
	payload, err := c.blobs.Get(ctx, rec.MediaRef)
	if err != nil {
		return nil, errors.Wrap(err, "fetch media")
	}
	return payload, nil
}

// ViewStory serves a story's content to one viewer. Friends stories gate on
// the wrapped-key table: a viewer without an entry gets ErrNotAViewer and no
// content. Public stories skip crypto entirely.
func (c *Coordinator) ViewStory(ctx context.Context, storyID, viewerID string, kp keymanager.KeyPair) (*ViewResult, error) {
	rec, err := c.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	payload, err := c.blobs.Get(ctx, rec.MediaRef)
	if err != nil {
		return nil, errors.Wrap(err, "fetch media")
	}

	if !rec.Encrypted {
		caption := ""
		if rec.Caption != nil {
			caption = *rec.Caption
		}
		return &ViewResult{Story: rec, Media: payload, Caption: caption}, nil
	}

	wrapped, err := c.store.Stories().WrappedKey(ctx, storyID, viewerID)
	if err != nil {
		return nil, err
	}
	key, err := keymanager.UnwrapStoryKey(wrapped, kp)
	if err != nil {
		return nil, err
	}
	media, caption, err := contentcodec.Decrypt(payload, key)
	if err != nil {
		return nil, err
	}
	return &ViewResult{Story: rec, Media: media, Caption: caption}, nil
}

// WrappedKeyFor returns the wrapped story key for one viewer, for clients
// that fetch media themselves and decrypt locally.
func (c *Coordinator) WrappedKeyFor(ctx context.Context, storyID, viewerID string) ([]byte, error) {
	if _, err := c.GetStory(ctx, storyID); err != nil {
		return nil, err
	}
	return c.store.Stories().WrappedKey(ctx, storyID, viewerID)
}

// Purge removes every durable trace of a story: record, wrapped keys,
// engagement events, counters, and media. Idempotent; purging an absent
// story is a success so redelivered expiry triggers confirm cleanly.
func (c *Coordinator) Purge(ctx context.Context, storyID string) error {
	rec, err := c.store.Stories().Get(ctx, storyID)
	if errors.Is(err, model.ErrNotFound) {
		// already purged; redelivered trigger confirms cleanly
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load story for purge")
	}

	// media first: if the blob delete fails the rows are still here and the
	// re-fired trigger retries the whole purge
	if err := c.blobs.Delete(ctx, rec.MediaRef); err != nil {
		return errors.Wrap(err, "delete media")
	}
	if _, _, err := c.store.Stories().Purge(ctx, storyID); err != nil {
		return errors.Wrap(err, "purge story rows")
	}
	c.log.Info().Str("story_id", storyID).Msg("story purged")
	return nil
}
