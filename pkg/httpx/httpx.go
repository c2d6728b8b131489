// Package httpx abstracts the HTTP client used for backend submissions so
// the engine can run on either net/http or fasthttp, selected by config.
package httpx

import (
	"context"
	"fmt"
	"time"
)

// Client posts JSON bodies to the backend.
type Client interface {
	// PostJSON sends body to url with the given headers and returns the
	// status code and response body.
	PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (int, []byte, error)
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// NewClient builds a Client for the named implementation ("nethttp" or
// "fasthttp"; empty selects nethttp).
func NewClient(impl string, timeout time.Duration) (Client, error) {
	switch impl {
	case "", "nethttp":
		return NewNetHTTP(timeout), nil
	case "fasthttp":
		return NewFastHTTP(timeout), nil
	}
	return nil, fmt.Errorf("unknown http client implementation %q", impl)
}
