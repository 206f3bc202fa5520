package clients

import (
	"context"
	"fmt"
)

// NilDBVault is the default StorageVault implementation, a thin REST
// client over the NILDB_* configured endpoint (spec.md §6). It delegates
// the actual HTTP call to an HTTP client so retry/timeout/error-kind
// classification stays in one place (clients.DefaultHTTP).
type NilDBVault struct {
	BaseURL string
	APIKey  string
	HTTP    HTTP
}

func NewNilDBVault(baseURL, apiKey string, h HTTP) *NilDBVault {
	return &NilDBVault{BaseURL: baseURL, APIKey: apiKey, HTTP: h}
}

func (v *NilDBVault) headers() map[string]string {
	h := map[string]string{}
	if v.APIKey != "" {
		h["Authorization"] = "Bearer " + v.APIKey
	}
	return h
}

func (v *NilDBVault) Put(ctx context.Context, collection, key string, value any) (string, error) {
	url := fmt.Sprintf("%s/collections/%s/records/%s", v.BaseURL, collection, key)
	resp, err := v.HTTP.Do(ctx, HTTPRequest{Method: "PUT", URL: url, Headers: v.headers(), Body: map[string]any{"value": value}})
	if err != nil {
		return "", err
	}
	_ = resp
	return fmt.Sprintf("%s/%s", collection, key), nil
}

func (v *NilDBVault) Get(ctx context.Context, collection, key string) (any, bool, error) {
	url := fmt.Sprintf("%s/collections/%s/records/%s", v.BaseURL, collection, key)
	resp, err := v.HTTP.Do(ctx, HTTPRequest{Method: "GET", URL: url, Headers: v.headers()})
	if resp.StatusCode == 404 {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if body, ok := resp.Body.(map[string]any); ok {
		if val, ok := body["value"]; ok {
			return val, true, nil
		}
	}
	return resp.Body, true, nil
}
