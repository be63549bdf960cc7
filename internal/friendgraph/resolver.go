// Package friendgraph defines the viewer-set resolver boundary. The friend
// graph itself lives in another service; the lifecycle engine consumes its
// output exactly once, at story creation.
package friendgraph

import (
	"context"

	"github.com/glimmerlabs/glimmer/internal/model"
)

// Resolver produces the bounded viewer set for an owner, each viewer paired
// with the public key handle used for key wrap.
type Resolver interface {
	ResolveViewers(ctx context.Context, ownerID string) ([]model.Viewer, error)
}

// StaticResolver serves fixed viewer sets. Used in tests and local setups.
type StaticResolver struct {
	viewers map[string][]model.Viewer
}

// NewStaticResolver builds a resolver over an ownerID -> viewers table.
func NewStaticResolver(viewers map[string][]model.Viewer) *StaticResolver {
	return &StaticResolver{viewers: viewers}
}

func (r *StaticResolver) ResolveViewers(_ context.Context, ownerID string) ([]model.Viewer, error) {
	return r.viewers[ownerID], nil
}
