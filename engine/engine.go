// Package engine implements the workflow graph execution engine: spec.md
// §4.1. Given a runId it loads the run and workflow, validates the graph,
// walks it in deterministic topological order threading memory between
// handlers, and finalises the run record with credit accounting.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zecflow/core/handlers"
	"github.com/zecflow/core/ledger"
	"github.com/zecflow/core/model"
	"github.com/zecflow/core/pathutil"
	"github.com/zecflow/core/secret"
	"github.com/zecflow/core/workflow"
	"github.com/zecflow/core/zecflog"
	"github.com/zecflow/core/zerrs"
)

// RunStore is the subset of the run store the engine needs. Load/Save are
// called under the worker's exclusive job claim (spec.md §5 "Shared
// resources"), so the engine itself does not need to re-serialise writes
// to the same run.
type RunStore interface {
	Get(ctx context.Context, runID string) (*model.Run, error)
	Save(ctx context.Context, run *model.Run) error
}

// WorkflowStore loads the workflow definition a run belongs to.
type WorkflowStore interface {
	Get(ctx context.Context, workflowID string) (*model.Workflow, error)
}

// ConnectorStore loads a connector as stored; its secret config fields
// still carry the enc: sentinel and Execute decrypts them at point of use
// (spec.md §3 "Connector").
type ConnectorStore interface {
	Get(ctx context.Context, connectorID string) (*model.Connector, error)
}

// Publisher is notified of run status transitions, used by the API's
// websocket run-status stream (SPEC_FULL.md §5.1). Optional: a nil
// Publisher on Engine disables streaming with no other behaviour change.
type Publisher interface {
	Publish(runID string, run *model.Run)
}

// MetricsRecorder is the narrow subset of metrics.Metrics the engine
// reports through; a nil Metrics field on Engine disables it.
type MetricsRecorder interface {
	ObserveRun(status string, duration time.Duration)
	ObserveHandler(blockID string, duration time.Duration)
}

// Engine ties together the stores, the credit ledger and the block
// handler dispatcher to execute one run at a time (per worker).
type Engine struct {
	Runs       RunStore
	Workflows  WorkflowStore
	Connectors ConnectorStore
	Ledger     *ledger.Ledger
	Deps       *handlers.Deps
	Publish    Publisher
	Metrics    MetricsRecorder
	Log        *zecflog.Logger
}

// Execute runs spec.md §4.1's algorithm for runID. It is safe to invoke
// concurrently for distinct runIDs and safe to re-invoke for the same
// runID if a previous attempt did not reach a terminal state (at-least-
// once worker delivery, spec.md §4.1 contract).
func (e *Engine) Execute(ctx context.Context, runID string) (map[string]any, error) {
	log := e.logger()

	run, err := e.Runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		log.Info("run already terminal, skipping", "runId", runID, "status", run.Status)
		return run.Result, nil
	}

	now := time.Now()
	run.Status = model.RunRunning
	run.StartedAt = &now
	run.Attempts++
	if err := e.Runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("persist running state for run %s: %w", runID, err)
	}
	e.publish(runID, run)

	result, runErr := e.execute(ctx, run)

	end := time.Now()
	run.EndedAt = &end
	if runErr != nil {
		run.Status = model.RunFailed
		run.LastError = toRunError(runErr)
		log.Error("run failed", "runId", runID, "kind", run.LastError.Kind, "message", run.LastError.Message, "nodeId", run.LastError.NodeID)
	} else {
		run.Status = model.RunSucceeded
		run.Result = result
		log.Info("run succeeded", "runId", runID)
	}
	if err := e.Runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("persist terminal state for run %s: %w", runID, err)
	}
	e.publish(runID, run)
	if e.Metrics != nil {
		e.Metrics.ObserveRun(string(run.Status), end.Sub(now))
	}

	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

func (e *Engine) publish(runID string, run *model.Run) {
	if e.Publish != nil {
		e.Publish.Publish(runID, run)
	}
}

func (e *Engine) logger() *zecflog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zecflog.Root()
}

// execute implements steps 3-9 of spec.md §4.1, returning a structured
// *zerrs.Error on any failure so Execute can classify retryability.
func (e *Engine) execute(ctx context.Context, run *model.Run) (map[string]any, *zerrs.Error) {
	wf, err := e.Workflows.Get(ctx, run.WorkflowID)
	if err != nil {
		return nil, zerrs.Wrap(zerrs.GraphMissing, err, "load workflow %s", run.WorkflowID)
	}
	if wf == nil || len(wf.Graph.Nodes) == 0 {
		return nil, zerrs.New(zerrs.GraphMissing, "workflow %s has no graph", run.WorkflowID)
	}

	// Pin the graph as read at job start (spec.md §3 "Immutable once a
	// run of a given version has started").
	graph := wf.Graph
	run.GraphSnapshot = &graph

	for _, n := range graph.Nodes {
		if !handlers.Registered(n.BlockID) {
			return nil, zerrs.New(zerrs.UnknownBlock, "block %q on node %q is not registered", n.BlockID, n.ID)
		}
	}

	validated, zerr := workflow.Validate(&graph)
	if zerr != nil {
		return nil, zerr
	}

	blockIDs := make([]string, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		blockIDs = append(blockIDs, n.BlockID)
	}
	cost := ledger.EstimateRunCost(blockIDs)
	affordable, err := e.Ledger.CanAfford(ctx, run.TenantID, cost)
	if err != nil {
		return nil, zerrs.Wrap(zerrs.InsufficientCredits, err, "check balance for tenant %s", run.TenantID)
	}
	if !affordable {
		return nil, zerrs.New(zerrs.InsufficientCredits, "tenant %s cannot afford estimated run cost %d", run.TenantID, cost)
	}

	order := validated.Order()

	memory := map[string]any{"payload": run.Payload}
	skipped := map[string]bool{}
	outputs := map[string]any{}
	global := map[string]any{}
	var lastKey string

	if _, err := e.Ledger.Debit(ctx, run.TenantID, ledger.Price("workflow-run"), "workflow-run"); err != nil {
		if ze, ok := zerrs.As(err); ok {
			return nil, ze
		}
		return nil, zerrs.Wrap(zerrs.CreditExhausted, err, "debit workflow-run")
	}

	for _, n := range order {
		if runIfGate(n, memory, skipped) {
			skipped[n.ID] = true
			continue
		}

		config, zerr := resolveNodeConfig(n, memory, skipped)
		if zerr != nil {
			return nil, zerr.WithNode(n.ID)
		}

		var connector *model.Connector
		if n.Connector != "" {
			connector, err = e.Connectors.Get(ctx, n.Connector)
			if err != nil {
				return nil, zerrs.Wrap(zerrs.ConfigInvalid, err, "load connector %s", n.Connector).WithNode(n.ID)
			}
			connector, err = decryptConnector(connector)
			if err != nil {
				return nil, zerrs.Wrap(zerrs.ConfigInvalid, err, "decrypt connector %s", n.Connector).WithNode(n.ID)
			}
		}

		in := handlers.Input{
			NodeID:    n.ID,
			Config:    config,
			Payload:   run.Payload,
			Memory:    memory,
			Connector: connector,
			Handles:   resolveHandles(validated, n.ID, memory, outputs),
		}

		handlerStart := time.Now()
		out, zerr := handlers.Dispatch(ctx, e.Deps, n.BlockID, in)
		if e.Metrics != nil {
			e.Metrics.ObserveHandler(n.BlockID, time.Since(handlerStart))
		}
		if zerr != nil {
			return nil, zerr
		}

		if price := ledger.Price(n.BlockID); price > 0 {
			if _, err := e.Ledger.Debit(ctx, run.TenantID, price, n.BlockID); err != nil {
				if ze, ok := zerrs.As(err); ok {
					return nil, ze.WithNode(n.ID)
				}
				return nil, zerrs.Wrap(zerrs.CreditExhausted, err, "debit %s", n.BlockID).WithNode(n.ID)
			}
		}

		key := n.OutputKey()
		if alias, ok := config["responseAlias"].(string); ok && alias != "" {
			key = alias
		} else if out.ResponseAlias != "" {
			key = out.ResponseAlias
		}
		memory[key] = out.Value
		outputs[key] = out.Value
		lastKey = key
		mergeGlobal(global, out.Global)
	}

	result := map[string]any{"outputs": outputs}
	if lastKey != "" {
		result["final"] = outputs[lastKey]
	}
	for k, v := range global {
		result[k] = v
	}
	return result, nil
}

// runIfGate resolves a node's optional runIfPath/runIfEquals config
// against {payload, memory} and reports whether the node should be
// skipped (spec.md §4.1 "Run-if gate"). skipped upstream nodes have no
// memory entry; per spec.md §9 that makes any runIf referencing them
// resolve falsy rather than erroring, which is the conservative reading
// adopted here.
func runIfGate(n model.Node, memory map[string]any, skipped map[string]bool) bool {
	path, hasPath := n.Data["runIfPath"].(string)
	if !hasPath || path == "" {
		return false
	}
	want := n.Data["runIfEquals"]
	return !pathutil.ResolveEqual(memory, path, want)
}

// resolveNodeConfig applies spec.md §4.1 "Resolve inputs" to a node's raw
// config, failing with config_invalid if any path key (see
// pathutil.IsPathKey) cannot be dereferenced against memory, e.g. one
// naming a skipped node's alias. Every path key is treated as required;
// there is no marker that makes one optional.
func resolveNodeConfig(n model.Node, memory map[string]any, skipped map[string]bool) (map[string]any, *zerrs.Error) {
	resolved := pathutil.ResolveConfig(n.Data, memory)
	for k, v := range n.Data {
		s, isStr := v.(string)
		if !isStr || !pathutil.IsPathKey(k) {
			continue
		}
		if _, ok := resolved[k]; ok {
			continue
		}
		// The path failed to resolve. If it references a skipped node's
		// alias, surface config_invalid per spec.md §9's documented
		// (if implicit) behaviour; any other unresolved required path is
		// config_invalid too.
		return nil, zerrs.New(zerrs.ConfigInvalid, "could not resolve %q=%q against payload/memory", k, s)
	}
	return resolved, nil
}

// resolveHandles builds the handle->value map branching blocks consume,
// per spec.md §4.1 "Tie-breaking and branching".
func resolveHandles(v *workflow.Validated, nodeID string, memory map[string]any, outputs map[string]any) map[string]any {
	incoming := v.IncomingHandles(nodeID)
	if len(incoming) == 0 {
		return nil
	}
	handles := make(map[string]any, len(incoming))
	for handle, sourceID := range incoming {
		if srcNode, ok := v.Node(sourceID); ok {
			handles[handle] = memory[srcNode.OutputKey()]
			continue
		}
		handles[handle] = memory[sourceID]
	}
	return handles
}

// mergeGlobal folds a handler's side-channel global fields into the
// run-level accumulator. attestations accumulate as a list since more
// than one node may produce one; other keys (stateKey, shielded) are
// last-write-wins, matching spec.md §4.1 step 9 "merging any global
// fields the handlers set".
func mergeGlobal(acc map[string]any, add map[string]any) {
	for k, v := range add {
		if k == "attestations" {
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			list, _ := acc["attestations"].([]string)
			acc["attestations"] = append(list, s)
			continue
		}
		acc[k] = v
	}
}

func toRunError(err *zerrs.Error) *model.RunError {
	return &model.RunError{Kind: string(err.Kind), Message: err.Message, NodeID: err.NodeID}
}

func decryptConnector(c *model.Connector) (*model.Connector, error) {
	if c == nil {
		return nil, nil
	}
	box := connectorBox
	if box == nil {
		return c, nil
	}
	decrypted := map[string]any{}
	for k, v := range c.Config {
		s, ok := v.(string)
		if !ok || !secret.IsEncrypted(s) {
			decrypted[k] = v
			continue
		}
		plain, err := box.Decrypt(s)
		if err != nil {
			return nil, err
		}
		decrypted[k] = plain
	}
	cp := *c
	cp.Config = decrypted
	return &cp, nil
}

// connectorBox is set once at process start via SetSecretBox; nil during
// unit tests that use plaintext fixtures.
var connectorBox *secret.Box

// SetSecretBox configures the encryption box used to decrypt connector
// secret fields at point of use.
func SetSecretBox(b *secret.Box) { connectorBox = b }
