package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/zecflow/core/zerrs"
)

// NilCCCompute is the default ConfCompute implementation: a REST client
// over the NILCC_* configured confidential-compute endpoint (spec.md §6).
// Submit returns immediately with a job id; Await polls until completion
// or the caller's bounded timeout elapses (spec.md §5 "Suspension
// points").
type NilCCCompute struct {
	BaseURL      string
	APIKey       string
	HTTP         HTTP
	PollInterval time.Duration
}

func NewNilCCCompute(baseURL, apiKey string, h HTTP) *NilCCCompute {
	return &NilCCCompute{BaseURL: baseURL, APIKey: apiKey, HTTP: h, PollInterval: 2 * time.Second}
}

func (c *NilCCCompute) headers() map[string]string {
	h := map[string]string{}
	if c.APIKey != "" {
		h["Authorization"] = "Bearer " + c.APIKey
	}
	return h
}

func (c *NilCCCompute) Submit(ctx context.Context, workloadID string, inputs map[string]any) (string, error) {
	resp, err := c.HTTP.Do(ctx, HTTPRequest{
		Method:  "POST",
		URL:     fmt.Sprintf("%s/workloads/%s/jobs", c.BaseURL, workloadID),
		Headers: c.headers(),
		Body:    map[string]any{"inputs": inputs},
	})
	if err != nil {
		return "", err
	}
	body, _ := resp.Body.(map[string]any)
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		return "", zerrs.New(zerrs.HandlerPermanent, "compute submit: no jobId in response")
	}
	return jobID, nil
}

func (c *NilCCCompute) Await(ctx context.Context, jobID string, timeout time.Duration) (ComputeResult, error) {
	deadline := time.Now().Add(timeout)
	interval := c.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		resp, err := c.HTTP.Do(ctx, HTTPRequest{Method: "GET", URL: fmt.Sprintf("%s/jobs/%s", c.BaseURL, jobID), Headers: c.headers()})
		if err != nil {
			return ComputeResult{}, err
		}
		body, _ := resp.Body.(map[string]any)
		switch status, _ := body["status"].(string); status {
		case "completed":
			out, _ := body["output"].(map[string]any)
			attestation, _ := body["attestation"].(string)
			return ComputeResult{Output: out, Attestation: attestation}, nil
		case "failed":
			msg, _ := body["error"].(string)
			return ComputeResult{}, zerrs.New(zerrs.HandlerPermanent, "compute job %s failed: %s", jobID, msg)
		}

		if time.Now().After(deadline) {
			return ComputeResult{}, zerrs.New(zerrs.HandlerTransient, "compute job %s timed out after %s", jobID, timeout)
		}
		select {
		case <-ctx.Done():
			return ComputeResult{}, zerrs.Wrap(zerrs.HandlerTransient, ctx.Err(), "compute job %s: context done", jobID)
		case <-time.After(interval):
		}
	}
}
