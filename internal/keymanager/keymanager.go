// Package keymanager derives per-story symmetric keys and wraps them for a
// bounded viewer set. Each viewer's entry is an anonymous curve25519 box of
// the story key under that viewer's public key, so every entry is
// independently unwrappable with fresh randomness per wrap.
package keymanager

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/glimmerlabs/glimmer/internal/model"
)

// KeySize is the story key length in bytes.
const KeySize = 32

// PublicKeySize is the required viewer public key length.
const PublicKeySize = 32

// StoryKey is the per-story symmetric key. It lives only in transient memory
// of the encrypting or decrypting operation; the persisted form is always a
// wrapped entry.
type StoryKey [KeySize]byte

// KeyPair is a viewer's curve25519 key pair handle used for unwrapping.
type KeyPair struct {
	Public  *[PublicKeySize]byte
	Private *[KeySize]byte
}

// GenerateViewerKeyPair creates a fresh viewer key pair. Production viewers
// bring their own keys through the friend-graph resolver; this exists for
// local development and tests.
func GenerateViewerKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// CreateStoryKey generates one fresh random story key and wraps it once per
// viewer. Fails with ErrKeyDerivation if the viewer set is empty or any
// public key is malformed; no partial table is returned.
func CreateStoryKey(viewers []model.Viewer) (*StoryKey, map[string][]byte, error) {
	if len(viewers) == 0 {
		return nil, nil, fmt.Errorf("%w: empty viewer set", model.ErrKeyDerivation)
	}

	var key StoryKey
	if _, err := rand.Read(key[:]); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", model.ErrKeyDerivation, err)
	}

	table := make(map[string][]byte, len(viewers))
	for _, v := range viewers {
		if v.ViewerID == "" {
			return nil, nil, fmt.Errorf("%w: viewer with empty id", model.ErrKeyDerivation)
		}
		if len(v.PublicKey) != PublicKeySize {
			return nil, nil, fmt.Errorf("%w: viewer %s public key has %d bytes, want %d",
				model.ErrKeyDerivation, v.ViewerID, len(v.PublicKey), PublicKeySize)
		}
		var pub [PublicKeySize]byte
		copy(pub[:], v.PublicKey)
		wrapped, err := box.SealAnonymous(nil, key[:], &pub, rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: wrap for viewer %s: %v", model.ErrKeyDerivation, v.ViewerID, err)
		}
		table[v.ViewerID] = wrapped
	}
	return &key, table, nil
}

// UnwrapStoryKey recovers the story key from one viewer's wrapped entry.
// Callers must have already resolved the entry through the store; a missing
// entry is ErrNotAViewer at that layer, while a corrupt entry or wrong key
// pair fails here.
func UnwrapStoryKey(wrapped []byte, kp KeyPair) (*StoryKey, error) {
	if kp.Public == nil || kp.Private == nil {
		return nil, fmt.Errorf("%w: incomplete key pair", model.ErrKeyDerivation)
	}
	plain, ok := box.OpenAnonymous(nil, wrapped, kp.Public, kp.Private)
	if !ok || len(plain) != KeySize {
		return nil, model.ErrDecryptionIntegrity
	}
	var key StoryKey
	copy(key[:], plain)
	return &key, nil
}
