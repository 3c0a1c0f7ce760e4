package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/JakeFAU/giftlists/internal/httpcache"
)

// StatusError reports a page served with a non-success status. Cached
// statuses (such as 404) are replayed without touching the network.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// FetchError reports a page that could not be retrieved even after the
// cached entry was cleared and the request retried.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Classify maps a fetch error to a short label used in logs and metrics.
func Classify(err error) string {
	if err == nil {
		return "success"
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return "not_found"
		}
		return "status"
	}
	if errors.Is(err, httpcache.ErrCorruptEntry) {
		return "corrupt_cache"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "other"
}
