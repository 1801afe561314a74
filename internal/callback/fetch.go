package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrTransientFetch = errors.New("transient fetch failure")
	ErrFetchRejected  = errors.New("content fetch rejected")
)

// Fetcher downloads saved content from the editor server.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher fetches over HTTP with a hard timeout and a size cap.
type HTTPFetcher struct {
	client      *http.Client
	timeout     time.Duration
	maxBytes    int64
	allowedHost string
}

// NewHTTPFetcher creates a fetcher. When allowedHost is set only URLs on
// that host (host[:port]) are fetched.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64, allowedHost string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	return &HTTPFetcher{
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		maxBytes:    maxBytes,
		allowedHost: strings.ToLower(allowedHost),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url", ErrFetchRejected)
	}
	if f.allowedHost != "" && strings.ToLower(u.Host) != f.allowedHost {
		return nil, fmt.Errorf("%w: host %q not allowed", ErrFetchRejected, u.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchRejected, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if retryableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: status %d", ErrTransientFetch, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrFetchRejected, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransientFetch, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", ErrFetchRejected, f.maxBytes)
	}
	return body, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
