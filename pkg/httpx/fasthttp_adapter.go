package httpx

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
)

type fastHTTPClient struct {
	c       *fasthttp.Client
	timeout time.Duration
}

// NewFastHTTP returns a fasthttp-backed client. fasthttp has no native
// context plumbing, so cancellation is approximated by capping the request
// at the sooner of the configured timeout and the context deadline.
func NewFastHTTP(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &fastHTTPClient{c: &fasthttp.Client{}, timeout: timeout}
}

func (f *fastHTTPClient) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	timeout := f.timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}
	if err := f.c.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, err
	}

	status := resp.StatusCode()
	respBody := append([]byte(nil), resp.Body()...)
	if status < 200 || status > 299 {
		return status, respBody, &StatusError{Status: status, Body: respBody}
	}
	return status, respBody, nil
}
