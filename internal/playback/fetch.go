package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/ambi/internal/recovery"
)

// Fetcher returns the bytes behind a URL or local path.
type Fetcher interface {
	Fetch(ctx context.Context, resource string) ([]byte, error)
}

// HTTPFetcher fetches http(s) URLs over the network and everything else from disk.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an [HTTPFetcher]. Deadlines come from the caller's context.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, resource string) ([]byte, error) {
	u, err := url.Parse(resource)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return readLocal(resource)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, nil)
	if err != nil {
		return nil, recovery.NewOpError("fetch", resource, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, recovery.NewOpError("fetch", resource, fmt.Errorf("%w: %v", recovery.ErrNetwork, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, recovery.NewOpError("fetch", resource, fmt.Errorf("%w: status %d", recovery.ErrNetwork, resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recovery.NewOpError("fetch", resource, fmt.Errorf("%w: %v", recovery.ErrNetwork, err))
	}
	return data, nil
}

// CloseIdleConnections releases pooled connections.
func (f *HTTPFetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func readLocal(resource string) ([]byte, error) {
	p := strings.TrimPrefix(resource, "file://")
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, recovery.NewOpError("fetch", resource, fmt.Errorf("%w: %v", recovery.ErrNetwork, err))
	}
	return data, nil
}

// isLocal reports whether resource would be read from disk.
func isLocal(resource string) bool {
	u, err := url.Parse(resource)
	return err != nil || (u.Scheme != "http" && u.Scheme != "https")
}
