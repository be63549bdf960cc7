package keymanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glimmerlabs/glimmer/internal/model"
)

func TestCreateStoryKeyWrapsPerViewer(t *testing.T) {
	a, err := GenerateViewerKeyPair()
	require.NoError(t, err)
	b, err := GenerateViewerKeyPair()
	require.NoError(t, err)

	key, table, err := CreateStoryKey([]model.Viewer{
		{ViewerID: "viewer-a", PublicKey: a.Public[:]},
		{ViewerID: "viewer-b", PublicKey: b.Public[:]},
	})
	require.NoError(t, err)
	require.Len(t, table, 2)

	// Each entry unwraps independently to the same key.
	gotA, err := UnwrapStoryKey(table["viewer-a"], a)
	require.NoError(t, err)
	require.Equal(t, key, gotA)

	gotB, err := UnwrapStoryKey(table["viewer-b"], b)
	require.NoError(t, err)
	require.Equal(t, key, gotB)

	// Wraps use fresh randomness: entries differ even for the same key.
	require.NotEqual(t, table["viewer-a"], table["viewer-b"])
}

func TestCreateStoryKeyEmptyViewerSet(t *testing.T) {
	_, _, err := CreateStoryKey(nil)
	if !errors.Is(err, model.ErrKeyDerivation) {
		t.Fatalf("want ErrKeyDerivation, got %v", err)
	}
}

func TestCreateStoryKeyMalformedPublicKey(t *testing.T) {
	_, _, err := CreateStoryKey([]model.Viewer{{ViewerID: "v", PublicKey: []byte("short")}})
	if !errors.Is(err, model.ErrKeyDerivation) {
		t.Fatalf("want ErrKeyDerivation, got %v", err)
	}
}

func TestUnwrapWithWrongKeyPairFailsClosed(t *testing.T) {
	a, err := GenerateViewerKeyPair()
	require.NoError(t, err)
	c, err := GenerateViewerKeyPair()
	require.NoError(t, err)

	_, table, err := CreateStoryKey([]model.Viewer{{ViewerID: "viewer-a", PublicKey: a.Public[:]}})
	require.NoError(t, err)

	_, err = UnwrapStoryKey(table["viewer-a"], c)
	if !errors.Is(err, model.ErrDecryptionIntegrity) {
		t.Fatalf("want ErrDecryptionIntegrity, got %v", err)
	}
}

func TestUnwrapTamperedEntry(t *testing.T) {
	a, err := GenerateViewerKeyPair()
	require.NoError(t, err)
	_, table, err := CreateStoryKey([]model.Viewer{{ViewerID: "viewer-a", PublicKey: a.Public[:]}})
	require.NoError(t, err)

	wrapped := table["viewer-a"]
	wrapped[len(wrapped)/2] ^= 0xff
	if _, err := UnwrapStoryKey(wrapped, a); !errors.Is(err, model.ErrDecryptionIntegrity) {
		t.Fatalf("want ErrDecryptionIntegrity, got %v", err)
	}
}
