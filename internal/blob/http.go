package blob

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/glimmerlabs/glimmer/internal/model"
)

// HTTPStore talks to an external blob gateway over its REST surface:
// POST /objects -> {"ref": ...}, GET/DELETE /objects/{ref}.
// Transient failures are retried with exponential backoff before surfacing
// ErrStorageUnavailable.
type HTTPStore struct {
	client *resty.Client
}

// NewHTTPStore builds a gateway client for the given base URL.
func NewHTTPStore(baseURL string) *HTTPStore {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second)
	return &HTTPStore{client: c}
}

func (s *HTTPStore) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(b, ctx)
}

func (s *HTTPStore) Put(ctx context.Context, payload []byte) (string, error) {
	var out struct {
		Ref string `json:"ref"`
	}
	op := func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(payload).
			SetResult(&out).
			Post("/objects")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("blob gateway put: http %d", resp.StatusCode())
		}
		return nil
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("%w: gateway returned empty ref", model.ErrStorageUnavailable)
	}
	return out.Ref, nil
}

func (s *HTTPStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var body []byte
	op := func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			Get("/objects/" + ref)
		if err != nil {
			return err
		}
		if resp.StatusCode() == http.StatusNotFound {
			return backoff.Permanent(model.ErrNotFound)
		}
		if resp.IsError() {
			return fmt.Errorf("blob gateway get: http %d", resp.StatusCode())
		}
		body = resp.Body()
		return nil
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		if err == model.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return body, nil
}

func (s *HTTPStore) Delete(ctx context.Context, ref string) error {
	op := func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			Delete("/objects/" + ref)
		if err != nil {
			return err
		}
		// 404 means the object is already gone; purge is idempotent.
		if resp.StatusCode() == http.StatusNotFound {
			return nil
		}
		if resp.IsError() {
			return fmt.Errorf("blob gateway delete: http %d", resp.StatusCode())
		}
		return nil
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}
