package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the shared client for buffered exchanges. The
// timeout here is the per-attempt ceiling; streaming exchanges manage
// their own deadlines and must pass 0.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
