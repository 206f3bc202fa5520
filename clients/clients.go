// Package clients defines the narrow typed interfaces the engine's block
// handlers call out through: a privacy-oriented chain RPC, an
// encrypted-storage vault, a confidential-compute service, an LLM
// gateway, a generic HTTP caller and a social-media feed reader.
// spec.md §1 treats the wire protocols of these backends as external
// collaborators: the core only depends on these abstract shapes, which
// mirror the backends' documented request/response shapes closely enough
// to be a faithful seam for tests (the trigger tests substitute an
// in-memory ChainRPC fake).
package clients

import (
	"context"
	"time"
)

// ChainRPC is the privacy-oriented blockchain node client (spec.md's
// "zcash-send" / chain-memo-watch surface).
type ChainRPC interface {
	// ShieldedSend submits a shielded send and returns an opaque
	// operation id to poll via OperationStatus (mirrors z_sendmany).
	ShieldedSend(ctx context.Context, req SendRequest) (opID string, err error)

	// OperationStatus reports the status of a previously submitted
	// operation: "executing", "success", "failed".
	OperationStatus(ctx context.Context, opID string) (OperationStatus, error)

	// ReceivedTransactions lists transactions received at address with
	// at least minConfirmations confirmations, newest last.
	ReceivedTransactions(ctx context.Context, address string, minConfirmations int) ([]Transaction, error)
}

// SendRequest is the resolved input to a shielded send.
type SendRequest struct {
	FromAddress   string
	ToAddress     string
	Amount        float64
	MemoHex       string
	PrivacyPolicy string
	// IdempotencyKey carries the zcash-send node's idempotencyKey config
	// value when one is set; no runId+nodeId token is derived for it. The
	// reference chain RPC here does not forward it, so it deduplicates
	// nothing — see DESIGN.md Open Question decisions.
	IdempotencyKey string
}

// OperationStatus is the polled state of an asynchronous chain operation.
type OperationStatus struct {
	Status  string // "executing" | "success" | "failed"
	TxID    string
	Error   string
}

// Transaction is one inbound transaction observed at a watched address.
type Transaction struct {
	TxID          string
	Amount        float64
	MemoHex       string
	Confirmations int
	BlockHeight   int64
}

// StorageVault is the encrypted-storage backend behind state-store /
// state-read blocks.
type StorageVault interface {
	Put(ctx context.Context, collection, key string, value any) (ref string, err error)
	Get(ctx context.Context, collection, key string) (value any, found bool, err error)
}

// ConfCompute is the confidential-compute backend behind nillion-compute
// / nillion-block-graph blocks.
type ConfCompute interface {
	Submit(ctx context.Context, workloadID string, inputs map[string]any) (jobID string, err error)
	Await(ctx context.Context, jobID string, timeout time.Duration) (ComputeResult, error)
}

// ComputeResult is the outcome of an awaited confidential-compute job.
type ComputeResult struct {
	Output      map[string]any
	Attestation string
}

// LLM is the LLM gateway behind nilai-llm blocks.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// CompletionRequest is a resolved prompt ready to send.
type CompletionRequest struct {
	Prompt string
	Model  string
}

// CompletionResult carries the textual response plus the optional
// side-channel fields spec.md §4.2 names for LLM blocks.
type CompletionResult struct {
	Text         string
	Signature    string
	VerifyingKey string
	Attestation  string
}

// HTTP is the generic outbound HTTP caller used by connector-request,
// custom-http-action blocks and the HTTP poll trigger supervisor.
type HTTP interface {
	Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}

// HTTPRequest is a fully-resolved outbound call.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
}

// HTTPResponse is the outcome of an HTTP call.
type HTTPResponse struct {
	StatusCode int
	Body       any
	RawBody    []byte
}

// Social is the social-media feed reader behind the social-poll trigger
// and any social-read blocks.
type Social interface {
	Timeline(ctx context.Context, sinceID string) ([]Post, error)
	Mentions(ctx context.Context, sinceID string) ([]Post, error)
}

// Post is one social-media item.
type Post struct {
	ID   string
	Text string
	Data map[string]any
}
