package contentcodec

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glimmerlabs/glimmer/internal/keymanager"
	"github.com/glimmerlabs/glimmer/internal/model"
)

func newKey(t *testing.T) *keymanager.StoryKey {
	t.Helper()
	var k keymanager.StoryKey
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return &k
}

func TestRoundTrip(t *testing.T) {
	key := newKey(t)
	cases := []struct {
		name    string
		media   []byte
		caption string
	}{
		{"image with caption", []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}, "late night"},
		{"empty caption", []byte("video-bytes"), ""},
		{"empty media", nil, "caption only"},
		{"binary caption boundary", bytes.Repeat([]byte{0xff}, 1<<12), "emoji ✨🌙"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := Encrypt(tc.media, tc.caption, key)
			require.NoError(t, err)

			media, caption, err := Decrypt(sealed, key)
			require.NoError(t, err)
			require.Equal(t, tc.caption, caption)
			if len(tc.media) == 0 {
				require.Empty(t, media)
			} else {
				require.Equal(t, tc.media, media)
			}
		})
	}
}

func TestNonceFreshness(t *testing.T) {
	key := newKey(t)
	s1, err := Encrypt([]byte("same"), "same", key)
	require.NoError(t, err)
	s2, err := Encrypt([]byte("same"), "same", key)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestTamperFailsClosed(t *testing.T) {
	key := newKey(t)
	sealed, err := Encrypt([]byte("media"), "caption", key)
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	media, caption, err := Decrypt(sealed, key)
	if !errors.Is(err, model.ErrDecryptionIntegrity) {
		t.Fatalf("want ErrDecryptionIntegrity, got %v", err)
	}
	if media != nil || caption != "" {
		t.Fatalf("tampered decrypt leaked output: media=%v caption=%q", media, caption)
	}
}

func TestWrongKeyFailsClosed(t *testing.T) {
	sealed, err := Encrypt([]byte("media"), "caption", newKey(t))
	require.NoError(t, err)

	_, _, err = Decrypt(sealed, newKey(t))
	if !errors.Is(err, model.ErrDecryptionIntegrity) {
		t.Fatalf("want ErrDecryptionIntegrity, got %v", err)
	}
}

func TestTruncatedPayload(t *testing.T) {
	key := newKey(t)
	sealed, err := Encrypt([]byte("media"), "", key)
	require.NoError(t, err)

	for _, n := range []int{0, 5, 23} {
		if _, _, err := Decrypt(sealed[:n], key); !errors.Is(err, model.ErrDecryptionIntegrity) {
			t.Fatalf("truncated to %d bytes: want ErrDecryptionIntegrity, got %v", n, err)
		}
	}
}
