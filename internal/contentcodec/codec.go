// Package contentcodec seals and opens story payloads with an authenticated
// cipher. The sealed form embeds the nonce and authentication tag so
// tampering or a wrong key fails closed instead of returning corrupt bytes.
//
// The codec is pure transform logic: callers move sealed payloads through
// object storage themselves, and public stories bypass it entirely.
package contentcodec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/glimmerlabs/glimmer/internal/keymanager"
	"github.com/glimmerlabs/glimmer/internal/model"
)

// Encrypt seals media bytes and caption under the story key. Layout:
// nonce || AEAD(uvarint(len(caption)) || caption || media).
func Encrypt(media []byte, caption string, key *keymanager.StoryKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, binary.MaxVarintLen64+len(caption)+len(media))
	frame = binary.AppendUvarint(frame, uint64(len(caption)))
	frame = append(frame, caption...)
	frame = append(frame, media...)

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, frame, nil), nil
}

// Decrypt opens a sealed payload. Any authentication failure, truncation, or
// framing inconsistency returns ErrDecryptionIntegrity.
func Decrypt(sealed []byte, key *keymanager.StoryKey) (media []byte, caption string, err error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, "", err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, "", fmt.Errorf("%w: payload shorter than nonce", model.ErrDecryptionIntegrity)
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	frame, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, "", model.ErrDecryptionIntegrity
	}

	capLen, n := binary.Uvarint(frame)
	if n <= 0 || uint64(len(frame)-n) < capLen {
		return nil, "", fmt.Errorf("%w: bad caption framing", model.ErrDecryptionIntegrity)
	}
	caption = string(frame[n : n+int(capLen)])
	media = frame[n+int(capLen):]
	return media, caption, nil
}
