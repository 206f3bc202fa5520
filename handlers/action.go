package handlers

import (
	"net/http"

	"context"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/secret"
	"github.com/zecflow/core/zerrs"
)

// ConnectorRequest implements connector-request: performs an HTTP call
// using a stored connector's baseUrl+headers, with the request body
// resolved from bodyPath; the response body is bound under responseAlias
// when declared (spec.md §4.2).
func ConnectorRequest(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	if in.Connector == nil {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "connector-request: no connector bound").WithNode(in.NodeID)
	}
	baseURL, _ := str(in.Connector.Config, "baseUrl")
	path, _ := str(in.Config, "path")

	headers := map[string]string{}
	if raw, ok := in.Connector.Config["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				if secret.IsEncrypted(s) {
					continue // engine.decryptConnector decrypts top-level fields only, so an encrypted header value is not sent
				}
				headers[k] = s
			}
		}
	}
	if raw, ok := in.Config["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return doAction(ctx, deps, in, baseURL+path, headers)
}

// CustomHTTPAction implements custom-http-action: performs an HTTP call
// against an absolute url with no connector involved (spec.md §4.2).
func CustomHTTPAction(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	url, _ := str(in.Config, "url")
	if url == "" {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "custom-http-action: url is required").WithNode(in.NodeID)
	}
	headers := map[string]string{}
	if raw, ok := in.Config["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	return doAction(ctx, deps, in, url, headers)
}

func doAction(ctx context.Context, deps *Deps, in Input, url string, headers map[string]string) (Output, *zerrs.Error) {
	method, _ := str(in.Config, "method")
	if method == "" {
		method = http.MethodPost
	}
	body, ok := in.Config["bodyPath"]
	if !ok {
		body = in.Config["body"]
	}

	resp, err := deps.HTTP.Do(ctx, clients.HTTPRequest{Method: method, URL: url, Headers: headers, Body: body})
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "action: request failed").WithNode(in.NodeID)
	}

	out := Output{Value: resp.Body}
	if alias, ok := str(in.Config, "responseAlias"); ok && alias != "" {
		out.ResponseAlias = alias
	}
	return out, nil
}
