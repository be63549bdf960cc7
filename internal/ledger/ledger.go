// Package ledger implements the engagement counting service: the
// record-once protocol over the store plus retry classification for
// transient failures.
package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store"
)

// Ledger records per-viewer engagement events exactly once.
type Ledger struct {
	engagement store.Engagement
	log        zerolog.Logger
	maxElapsed time.Duration
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithMaxElapsed caps how long transient store failures are retried before
// the ledger reports itself unavailable.
func WithMaxElapsed(d time.Duration) Option {
	return func(l *Ledger) { l.maxElapsed = d }
}

// New builds a Ledger over the given engagement store.
func New(engagement store.Engagement, log zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		engagement: engagement,
		log:        log.With().Str("component", "ledger").Logger(),
		maxElapsed: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record applies one engagement event. Redelivery of an already-counted
// (story, viewer, kind) returns accepted=false with the counters unchanged.
// Transient store errors are retried with exponential backoff; exhaustion
// surfaces as model.ErrLedgerUnavailable.
func (l *Ledger) Record(ctx context.Context, storyID, viewerID string, kind model.EventKind) (bool, model.Counters, error) {
	if storyID == "" || viewerID == "" {
		return false, model.Counters{}, errors.Wrap(model.ErrValidation, "storyId and viewerId are required")
	}
	if !kind.Valid() {
		return false, model.Counters{}, errors.Wrapf(model.ErrValidation, "unknown event kind %q", kind)
	}

	var accepted bool
	var counters model.Counters
	op := func() error {
		var err error
		accepted, counters, err = l.engagement.Record(ctx, storyID, viewerID, kind)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrValidation):
			// domain outcomes, not transient faults
			return backoff.Permanent(err)
		default:
			l.log.Warn().Err(err).Str("story_id", storyID).Str("kind", string(kind)).Msg("transient ledger failure, retrying")
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = l.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation) {
			return false, model.Counters{}, err
		}
		return false, model.Counters{}, errors.Wrap(model.ErrLedgerUnavailable, err.Error())
	}
	return accepted, counters, nil
}

// Counters returns the story's aggregate counters.
func (l *Ledger) Counters(ctx context.Context, storyID string) (model.Counters, error) {
	return l.engagement.Counters(ctx, storyID)
}
