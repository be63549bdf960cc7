// Package blob defines the object-storage collaborator boundary. Story media
// (sealed or plain) flows through a Store; the engine never keeps media bytes
// in its own database.
package blob

import "context"

// Store is the object-storage contract the lifecycle engine depends on.
// Delete must tolerate an already-absent ref: expiry purge is at-least-once
// and will ask for the same deletion more than once.
type Store interface {
	// Put persists the payload and returns an opaque media ref.
	Put(ctx context.Context, payload []byte) (string, error)
	// Get returns the payload for a ref, or model.ErrNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the payload. Deleting a missing ref is a no-op success.
	Delete(ctx context.Context, ref string) error
}
