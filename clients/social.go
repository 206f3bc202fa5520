package clients

import (
	"context"
	"fmt"
)

// BearerSocial is the default Social implementation: a bearer-token REST
// client against a configured social feed endpoint (spec.md §4.4
// "Social-feed poller").
type BearerSocial struct {
	BaseURL string
	Token   string
	HTTP    HTTP
}

func NewBearerSocial(baseURL, token string, h HTTP) *BearerSocial {
	return &BearerSocial{BaseURL: baseURL, Token: token, HTTP: h}
}

func (s *BearerSocial) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.Token}
}

func (s *BearerSocial) fetch(ctx context.Context, path, sinceID string) ([]Post, error) {
	url := fmt.Sprintf("%s%s", s.BaseURL, path)
	if sinceID != "" {
		url += "?since_id=" + sinceID
	}
	resp, err := s.HTTP.Do(ctx, HTTPRequest{Method: "GET", URL: url, Headers: s.headers()})
	if err != nil {
		return nil, err
	}
	items, _ := resp.Body.([]any)
	out := make([]Post, 0, len(items))
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		text, _ := m["text"].(string)
		out = append(out, Post{ID: id, Text: text, Data: m})
	}
	return out, nil
}

func (s *BearerSocial) Timeline(ctx context.Context, sinceID string) ([]Post, error) {
	return s.fetch(ctx, "/timeline", sinceID)
}

func (s *BearerSocial) Mentions(ctx context.Context, sinceID string) ([]Post, error) {
	return s.fetch(ctx, "/mentions", sinceID)
}
