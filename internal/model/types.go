package model

import "time"

// ContentKind distinguishes story media types.
type ContentKind string

const (
	KindImage ContentKind = "image"
	KindVideo ContentKind = "video"
)

// Visibility controls who may view a story.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityFriends Visibility = "friends"
)

// EventKind is a per-viewer engagement action.
type EventKind string

const (
	EventView  EventKind = "view"
	EventLike  EventKind = "like"
	EventShare EventKind = "share"
)

// Valid reports whether k is a known engagement kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventView, EventLike, EventShare:
		return true
	}
	return false
}

// Counters holds per-story aggregate engagement counts.
// Each field equals the number of recorded events of that kind.
type Counters struct {
	Views  int64 `json:"views"`
	Likes  int64 `json:"likes"`
	Shares int64 `json:"shares"`
}

// StoryRecord is the persisted form of a story.
//
// For encrypted stories the caption travels inside the sealed payload and
// Caption stays nil. Encrypted is true iff Visibility is friends iff
// WrappedKeys is non-empty.
type StoryRecord struct {
	StoryID      string            `json:"storyId"`
	OwnerID      string            `json:"ownerId"`
	Kind         ContentKind       `json:"kind"`
	Visibility   Visibility        `json:"visibility"`
	Caption      *string           `json:"caption,omitempty"`
	MediaRef     string            `json:"mediaRef"`
	Encrypted    bool              `json:"encrypted"`
	WrappedKeys  map[string][]byte `json:"wrappedKeys,omitempty"`
	Counters     Counters          `json:"counters"`
	Published    bool              `json:"published"`
	CreationTime time.Time         `json:"creationTime"`
	ExpiryTime   time.Time         `json:"expiryTime"`
}

// Expired reports whether the story is past its expiry instant at now.
func (s *StoryRecord) Expired(now time.Time) bool {
	return !now.Before(s.ExpiryTime)
}

// EngagementEvent is one viewer's action on a story. At most one row exists
// per (StoryID, ViewerID, Kind).
type EngagementEvent struct {
	StoryID      string    `json:"storyId"`
	ViewerID     string    `json:"viewerId"`
	Kind         EventKind `json:"kind"`
	CreationTime time.Time `json:"creationTime"`
}

// DeletionTask tracks at-least-once delivery of a story's expiry trigger.
type DeletionTask struct {
	StoryID         string     `json:"storyId"`
	FireTime        time.Time  `json:"fireTime"`
	Attempts        int        `json:"attempts"`
	LastAttemptTime *time.Time `json:"lastAttemptTime,omitempty"`
	Status          TaskStatus `json:"status"`
}

// TaskStatus is the persisted deletion-task state.
type TaskStatus string

const (
	// TaskPending covers both scheduled and failed-awaiting-retry: the row
	// becomes due again once its fire time passes.
	TaskPending TaskStatus = "pending"
	// TaskDead marks a task that exhausted its delivery attempts and needs
	// external intervention.
	TaskDead TaskStatus = "dead"
)

// Viewer pairs a viewer id with that viewer's public key material as
// returned by the friend-graph resolver.
type Viewer struct {
	ViewerID  string `json:"viewerId"`
	PublicKey []byte `json:"publicKey"`
}

// FeedRequest captures a single feed page request.
type FeedRequest struct {
	Visibility Visibility // empty means all visibilities
	PageSize   int
	Now        time.Time // read-time expiry filter reference
	// Keyset cursor position; both zero for the first page.
	AfterCreationTime time.Time
	AfterStoryID      string
}
