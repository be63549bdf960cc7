package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/glimmerlabs/glimmer/internal/blob"
	"github.com/glimmerlabs/glimmer/internal/feed"
	"github.com/glimmerlabs/glimmer/internal/friendgraph"
	"github.com/glimmerlabs/glimmer/internal/keymanager"
	"github.com/glimmerlabs/glimmer/internal/ledger"
	"github.com/glimmerlabs/glimmer/internal/lifecycle"
	"github.com/glimmerlabs/glimmer/internal/model"
	"github.com/glimmerlabs/glimmer/internal/store/sqlite"
)

type testServer struct {
	srv  *httptest.Server
	keys map[string]keymanager.KeyPair
}

func newTestServer(t *testing.T, viewerIDs ...string) *testServer {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Bootstrap(context.Background(), db))
	s := sqlite.NewWithDB(db)

	keys := make(map[string]keymanager.KeyPair, len(viewerIDs))
	var viewers []model.Viewer
	for _, id := range viewerIDs {
		kp, err := keymanager.GenerateViewerKeyPair()
		require.NoError(t, err)
		keys[id] = kp
		viewers = append(viewers, model.Viewer{ViewerID: id, PublicKey: kp.Public[:]})
	}
	resolver := friendgraph.NewStaticResolver(map[string][]model.Viewer{"owner": viewers})

	coord := lifecycle.New(s, blob.NewMemoryStore(), resolver, 24*time.Hour, time.Hour, zerolog.Nop())
	router := NewRouter(Deps{
		Coordinator: coord,
		Feed:        feed.New(s.Stories()),
		Ledger:      ledger.New(s.Engagement(), zerolog.Nop()),
		Pinger:      s.(StorePinger),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, keys: keys}
}

func (ts *testServer) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (ts *testServer) createStory(t *testing.T, visibility string) model.StoryRecord {
	t.Helper()
	resp := ts.postJSON(t, "/api/stories", map[string]string{
		"ownerId":    "owner",
		"media":      base64.StdEncoding.EncodeToString([]byte("media bytes")),
		"caption":    "a caption",
		"kind":       "image",
		"visibility": visibility,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec model.StoryRecord
	decode(t, resp, &rec)
	return rec
}

func TestCreateAndGetStory(t *testing.T) {
	ts := newTestServer(t, "alice")

	rec := ts.createStory(t, "friends")
	require.True(t, rec.Encrypted)
	require.NotEmpty(t, rec.StoryID)

	resp, err := http.Get(ts.srv.URL + "/api/stories/" + rec.StoryID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.StoryRecord
	decode(t, resp, &got)
	require.Equal(t, rec.StoryID, got.StoryID)
	require.Empty(t, got.WrappedKeys, "key table never rides along with metadata")

	resp, err = http.Get(ts.srv.URL + "/api/stories/no-such-story")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateStoryValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/stories", map[string]string{
		"ownerId":    "owner",
		"media":      base64.StdEncoding.EncodeToString([]byte("m")),
		"kind":       "hologram",
		"visibility": "public",
	})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.postJSON(t, "/api/stories", map[string]string{
		"ownerId":    "owner",
		"media":      "not base64!!",
		"kind":       "image",
		"visibility": "public",
	})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// friends story with nobody to share with
	resp = ts.postJSON(t, "/api/stories", map[string]string{
		"ownerId":    "owner",
		"media":      base64.StdEncoding.EncodeToString([]byte("m")),
		"kind":       "image",
		"visibility": "friends",
	})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWrappedKeyEndpointGatesAccess(t *testing.T) {
	ts := newTestServer(t, "alice")
	rec := ts.createStory(t, "friends")

	resp, err := http.Get(fmt.Sprintf("%s/api/stories/%s/key/alice", ts.srv.URL, rec.StoryID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		WrappedKey string `json:"wrappedKey"`
	}
	decode(t, resp, &body)

	wrapped, err := base64.StdEncoding.DecodeString(body.WrappedKey)
	require.NoError(t, err)
	_, err = keymanager.UnwrapStoryKey(wrapped, ts.keys["alice"])
	require.NoError(t, err)

	resp, err = http.Get(fmt.Sprintf("%s/api/stories/%s/key/mallory", ts.srv.URL, rec.StoryID))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFeedPagination(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		ts.createStory(t, "public")
	}

	var page struct {
		Stories    []model.StoryRecord `json:"stories"`
		NextCursor string              `json:"nextCursor"`
	}
	resp, err := http.Get(ts.srv.URL + "/api/feed?pageSize=3")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &page)
	require.Len(t, page.Stories, 3)
	require.NotEmpty(t, page.NextCursor)

	resp, err = http.Get(ts.srv.URL + "/api/feed?pageSize=3&cursor=" + page.NextCursor)
	require.NoError(t, err)
	decode(t, resp, &page)
	require.Len(t, page.Stories, 2)
	require.Empty(t, page.NextCursor)

	resp, err = http.Get(ts.srv.URL + "/api/feed?cursor=garbage!!")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecordEventExactlyOnce(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.createStory(t, "public")

	var out struct {
		Accepted bool           `json:"accepted"`
		Counters model.Counters `json:"counters"`
	}

	resp := ts.postJSON(t, "/api/stories/"+rec.StoryID+"/events", map[string]string{"viewerId": "alice", "kind": "view"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &out)
	require.True(t, out.Accepted)
	require.Equal(t, int64(1), out.Counters.Views)

	// duplicate delivery
	resp = ts.postJSON(t, "/api/stories/"+rec.StoryID+"/events", map[string]string{"viewerId": "alice", "kind": "view"})
	decode(t, resp, &out)
	require.False(t, out.Accepted)
	require.Equal(t, int64(1), out.Counters.Views)

	resp = ts.postJSON(t, "/api/stories/"+rec.StoryID+"/events", map[string]string{"viewerId": "alice", "kind": "boost"})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPurgeEndpointIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.createStory(t, "public")

	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/stories/"+rec.StoryID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// purged story is gone from reads
	getResp, err := http.Get(ts.srv.URL + "/api/stories/" + rec.StoryID)
	require.NoError(t, err)
	_ = getResp.Body.Close()
	require.Equal(t, http.StatusNotFound, getResp.StatusCode)

	// second delete is still success
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/health", "/api/health/db"} {
		resp, err := http.Get(ts.srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
