package clients

import (
	"context"

	"github.com/zecflow/core/zerrs"
)

// NilAILLM is the default LLM implementation: a REST client over the
// NILAI_* configured gateway endpoint (spec.md §6), which may return a
// signed completion suitable for attaching signature/verifyingKey/
// attestation fields per spec.md §4.2.
type NilAILLM struct {
	BaseURL string
	APIKey  string
	HTTP    HTTP
}

func NewNilAILLM(baseURL, apiKey string, h HTTP) *NilAILLM {
	return &NilAILLM{BaseURL: baseURL, APIKey: apiKey, HTTP: h}
}

func (l *NilAILLM) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	headers := map[string]string{}
	if l.APIKey != "" {
		headers["Authorization"] = "Bearer " + l.APIKey
	}
	resp, err := l.HTTP.Do(ctx, HTTPRequest{
		Method:  "POST",
		URL:     l.BaseURL + "/v1/chat/completions",
		Headers: headers,
		Body: map[string]any{
			"model":    req.Model,
			"messages": []map[string]string{{"role": "user", "content": req.Prompt}},
		},
	})
	if err != nil {
		return CompletionResult{}, err
	}
	body, ok := resp.Body.(map[string]any)
	if !ok {
		return CompletionResult{}, zerrs.New(zerrs.HandlerPermanent, "llm: unexpected response shape")
	}

	text, _ := body["text"].(string)
	if text == "" {
		if choices, ok := body["choices"].([]any); ok && len(choices) > 0 {
			if choice, ok := choices[0].(map[string]any); ok {
				if msg, ok := choice["message"].(map[string]any); ok {
					text, _ = msg["content"].(string)
				}
			}
		}
	}
	sig, _ := body["signature"].(string)
	vk, _ := body["verifyingKey"].(string)
	att, _ := body["attestation"].(string)
	return CompletionResult{Text: text, Signature: sig, VerifyingKey: vk, Attestation: att}, nil
}
