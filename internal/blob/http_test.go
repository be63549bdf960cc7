package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glimmerlabs/glimmer/internal/model"
)

func newGateway(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()
	objects := map[string][]byte{}
	n := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/objects", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n++
		ref := fmt.Sprintf("obj-%d", n)
		objects[ref] = body
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": ref})
	})
	mux.HandleFunc("/objects/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/objects/")
		payload, ok := objects[ref]
		switch r.Method {
		case http.MethodGet:
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(payload)
		case http.MethodDelete:
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(objects, ref)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, objects
}

func TestHTTPStoreRoundTrip(t *testing.T) {
	srv, _ := newGateway(t)
	s := NewHTTPStore(srv.URL)
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("sealed bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte("sealed bytes"), got)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	require.ErrorIs(t, err, model.ErrNotFound)

	// deleting the already-deleted ref is a no-op success
	require.NoError(t, s.Delete(ctx, ref))
}

func TestHTTPStorePutRetriesServerErrors(t *testing.T) {
	failures := 2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures > 0 {
			failures--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": "r1"})
	}))
	t.Cleanup(srv.Close)

	ref, err := NewHTTPStore(srv.URL).Put(context.Background(), []byte("p"))
	require.NoError(t, err)
	require.Equal(t, "r1", ref)
	require.Zero(t, failures)
}

func TestHTTPStoreSurfacesUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewHTTPStore(srv.URL).Put(ctx, []byte("p"))
	require.ErrorIs(t, err, model.ErrStorageUnavailable)
}
