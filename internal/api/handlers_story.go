package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/glimmerlabs/glimmer/internal/api/respond"
	"github.com/glimmerlabs/glimmer/internal/feed"
	"github.com/glimmerlabs/glimmer/internal/ledger"
	"github.com/glimmerlabs/glimmer/internal/lifecycle"
	"github.com/glimmerlabs/glimmer/internal/model"
)

// StoryHandler serves the story lifecycle endpoints.
type StoryHandler struct {
	coord *lifecycle.Coordinator
	feed  *feed.Index
	led   *ledger.Ledger
}

func NewStoryHandler(coord *lifecycle.Coordinator, idx *feed.Index, led *ledger.Ledger) *StoryHandler {
	return &StoryHandler{coord: coord, feed: idx, led: led}
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrKeyDerivation):
		respond.WriteBadRequest(w, err.Error())
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrNotAViewer):
		respond.WriteForbidden(w, err.Error())
	case errors.Is(err, model.ErrConflict):
		respond.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrLedgerUnavailable), errors.Is(err, model.ErrStorageUnavailable):
		respond.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}

// CreateStory POST /api/stories
func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID    string `json:"ownerId"`
		Media      string `json:"media"` // base64
		Caption    string `json:"caption,omitempty"`
		Kind       string `json:"kind"`
		Visibility string `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	media, err := base64.StdEncoding.DecodeString(req.Media)
	if err != nil {
		respond.WriteBadRequest(w, "media must be base64")
		return
	}

	rec, err := h.coord.CreateStory(r.Context(), lifecycle.CreateRequest{
		OwnerID:    req.OwnerID,
		Media:      media,
		Caption:    req.Caption,
		Kind:       model.ContentKind(req.Kind),
		Visibility: model.Visibility(req.Visibility),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, rec)
}

// GetStory GET /api/stories/{storyId}
func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["storyId"]
	rec, err := h.coord.GetStory(r.Context(), storyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, rec)
}

// GetMedia GET /api/stories/{storyId}/media
//
// Returns the stored payload: sealed bytes for friends stories (the client
// unwraps its key and decrypts locally), plain bytes for public ones.
func (h *StoryHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["storyId"]
	rec, err := h.coord.GetStory(r.Context(), storyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload, err := h.coord.MediaPayload(r.Context(), rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// GetWrappedKey GET /api/stories/{storyId}/key/{viewerId}
func (h *StoryHandler) GetWrappedKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	wrapped, err := h.coord.WrappedKeyFor(r.Context(), vars["storyId"], vars["viewerId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{
		"storyId":    vars["storyId"],
		"viewerId":   vars["viewerId"],
		"wrappedKey": base64.StdEncoding.EncodeToString(wrapped),
	})
}

// GetFeed GET /api/feed?cursor=&pageSize=&visibility=
func (h *StoryHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := 0
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.WriteBadRequest(w, "pageSize must be a non-negative integer")
			return
		}
		pageSize = n
	}
	visibility := model.Visibility(q.Get("visibility"))
	if visibility != "" && visibility != model.VisibilityPublic && visibility != model.VisibilityFriends {
		respond.WriteBadRequest(w, "unknown visibility")
		return
	}

	stories, next, err := h.feed.Page(r.Context(), q.Get("cursor"), pageSize, visibility)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if stories == nil {
		stories = []*model.StoryRecord{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"stories":    stories,
		"nextCursor": next,
	})
}

// RecordEvent POST /api/stories/{storyId}/events
func (h *StoryHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	storyID := mux.Vars(r)["storyId"]
	var req struct {
		ViewerID string `json:"viewerId"`
		Kind     string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	// events only count against visible stories
	if _, err := h.coord.GetStory(r.Context(), storyID); err != nil {
		writeDomainError(w, err)
		return
	}
	accepted, counters, err := h.led.Record(r.Context(), storyID, req.ViewerID, model.EventKind(req.Kind))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": accepted,
		"counters": counters,
	})
}

// PurgeStory DELETE /api/stories/{storyId}
//
// Administrative purge; the same idempotent path the expiry worker drives.
func (h *StoryHandler) PurgeStory(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Purge(r.Context(), mux.Vars(r)["storyId"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
