// Package handlers implements the block handler families of spec.md §4.2:
// one pure dispatcher per family (logic, storage, confidential-compute,
// LLM, chain, connector/action, http), each a pure function of its
// resolved inputs plus the external clients it is allowed to call. None
// of these handlers hold engine state; the engine calls Dispatch once per
// node and threads the result back into memory itself (spec.md §9
// "Graph walking").
package handlers

import (
	"context"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/model"
	"github.com/zecflow/core/zerrs"
)

// Deps are the external clients a handler is allowed to call. Every
// handler receives the same Deps; which fields it actually uses depends
// on its block id.
type Deps struct {
	Chain   clients.ChainRPC
	Storage clients.StorageVault
	Compute clients.ConfCompute
	LLM     clients.LLM
	HTTP    clients.HTTP
	Social  clients.Social
}

// Input is what a handler receives: {resolvedConfig, payload, memory,
// connector?} from spec.md §4.1 step 8, plus the node id for error
// attribution and the branch-handle map for if/else and math-like blocks.
type Input struct {
	NodeID    string
	Config    map[string]any
	Payload   map[string]any
	Memory    map[string]any
	Connector *model.Connector
	// Handles maps a branching block's named input port (e.g.
	// "condition", "a", "b", "true", "false") to the memory value flowing
	// in on that port, per spec.md §4.1 "Tie-breaking and branching".
	Handles map[string]any
}

// Output is a handler's result: the JSON-serialisable value to bind into
// memory, plus optional global fields merged into the run's result
// (stateKey, shielded, attestations) and an optional alias override for
// action handlers that declared responseAlias.
type Output struct {
	Value         any
	Global        map[string]any
	ResponseAlias string
}

// Func is the signature every handler family implements.
type Func func(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error)

// registry maps a block catalog id to its handler function. Block ids not
// present here produce unknown_block, a fatal, non-retryable error
// (spec.md §7).
var registry = map[string]Func{
	"payload-input":       Input_,
	"json-extract":        JSONExtract,
	"memo-parser":         MemoParser,
	"logic-if-else":       IfElse,
	"logic-math":          Math,
	"state-store":         StateStore,
	"state-read":          StateRead,
	"nillion-compute":     NillionCompute,
	"nillion-block-graph": NillionBlockGraph,
	"nilai-llm":           NilaiLLM,
	"zcash-send":          ZcashSend,
	"connector-request":   ConnectorRequest,
	"custom-http-action":  CustomHTTPAction,
}

// Dispatch routes a node to its handler by block id. An unregistered
// block id is a fatal graph-time error surfaced as unknown_block.
func Dispatch(ctx context.Context, deps *Deps, blockID string, in Input) (Output, *zerrs.Error) {
	fn, ok := registry[blockID]
	if !ok {
		return Output{}, zerrs.New(zerrs.UnknownBlock, "no handler registered for block %q", blockID).WithNode(in.NodeID)
	}
	return fn(ctx, deps, in)
}

// Registered reports whether blockID has a handler, used by graph
// validation so an unknown block is caught before any node runs.
func Registered(blockID string) bool {
	_, ok := registry[blockID]
	return ok
}

func str(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func float(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
