package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/zecflow/core/zerrs"
)

// DefaultHTTP is the production HTTP client implementation. It is a thin
// wrapper over net/http: connector-request/custom-http-action/http-poll
// call arbitrary tenant-configured endpoints, so there is no ecosystem
// SDK to adopt here — stdlib net/http is the correct, documented choice
// for "arbitrary HTTP endpoints" (spec.md §1).
type DefaultHTTP struct {
	Client *http.Client
}

// NewDefaultHTTP builds a client with the given default timeout, applied
// when the request does not specify its own.
func NewDefaultHTTP(defaultTimeout time.Duration) *DefaultHTTP {
	return &DefaultHTTP{Client: &http.Client{Timeout: defaultTimeout}}
}

func (c *DefaultHTTP) Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.Client.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return HTTPResponse{}, zerrs.New(zerrs.ConfigInvalid, "encode request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return HTTPResponse{}, zerrs.New(zerrs.ConfigInvalid, "build request: %v", err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, zerrs.Wrap(zerrs.HandlerTransient, err, "request to %s failed", req.URL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return HTTPResponse{}, zerrs.Wrap(zerrs.HandlerTransient, err, "read response body")
	}

	out := HTTPResponse{StatusCode: resp.StatusCode, RawBody: raw}
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		out.Body = decoded
	} else {
		out.Body = string(raw)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return out, zerrs.New(zerrs.ExternalUnauthenticated, "%s returned %d", req.URL, resp.StatusCode)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return out, zerrs.New(zerrs.HandlerTransient, "%s returned %d", req.URL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return out, zerrs.New(zerrs.HandlerPermanent, "%s returned %d", req.URL, resp.StatusCode)
	}
	return out, nil
}
