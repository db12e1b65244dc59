package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ResourceFetcher is the abstract capability for fetching remote resources.
// The loader's dedup, timeout, and retry behavior is independent of any
// specific loading mechanism; tests supply counting fakes.
type ResourceFetcher interface {
	Fetch(ctx context.Context, address string) ([]byte, error)
}

// FetchError reports a non-success HTTP status from a remote.
type FetchError struct {
	Address    string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Address, e.StatusCode)
}

// HTTPFetcher fetches resources over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. The client timeout is a backstop; the
// loader applies its own per-load deadline through the context.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch implements ResourceFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", address, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{Address: address, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", address, err)
	}
	return body, nil
}
