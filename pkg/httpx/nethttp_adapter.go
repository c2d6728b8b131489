package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

type netHTTPClient struct {
	c *http.Client
}

// NewNetHTTP returns the default net/http-backed client.
func NewNetHTTP(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &netHTTPClient{c: &http.Client{Timeout: timeout}}
}

func (n *netHTTPClient) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := n.c.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, respBody, &StatusError{Status: resp.StatusCode, Body: respBody}
	}
	return resp.StatusCode, respBody, nil
}
