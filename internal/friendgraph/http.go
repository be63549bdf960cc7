package friendgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/glimmerlabs/glimmer/internal/model"
)

// HTTPResolver queries the friend-graph service:
// GET /graph/{ownerId}/viewers -> {"viewers":[{"viewerId":...,"publicKey":...}]}.
type HTTPResolver struct {
	client *resty.Client
}

// NewHTTPResolver builds a resolver client for the given base URL.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	return &HTTPResolver{client: c}
}

func (r *HTTPResolver) ResolveViewers(ctx context.Context, ownerID string) ([]model.Viewer, error) {
	var out struct {
		Viewers []model.Viewer `json:"viewers"`
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/graph/" + ownerID + "/viewers")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("friend graph: http %d", resp.StatusCode())
	}
	return out.Viewers, nil
}
