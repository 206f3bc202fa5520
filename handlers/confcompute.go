package handlers

import (
	"context"
	"time"

	"github.com/zecflow/core/zerrs"
)

const defaultComputeTimeout = 60 * time.Second

// NillionCompute implements nillion-compute: submits a workload id plus
// inputs, awaits the result, and attaches the returned attestation to the
// node's output (spec.md §4.2).
func NillionCompute(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	return submitAndAwait(ctx, deps, in)
}

// NillionBlockGraph implements nillion-block-graph: identical submit/await
// contract to nillion-compute, priced differently (spec.md §6).
func NillionBlockGraph(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	return submitAndAwait(ctx, deps, in)
}

func submitAndAwait(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	workloadID, ok := str(in.Config, "workloadId")
	if !ok || workloadID == "" {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "compute: workloadId is required").WithNode(in.NodeID)
	}
	inputs, _ := in.Config["inputs"].(map[string]any)

	jobID, err := deps.Compute.Submit(ctx, workloadID, inputs)
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "compute: submit failed").WithNode(in.NodeID)
	}

	result, err := deps.Compute.Await(ctx, jobID, defaultComputeTimeout)
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "compute: await failed").WithNode(in.NodeID)
	}

	value := map[string]any{}
	for k, v := range result.Output {
		value[k] = v
	}
	if result.Attestation != "" {
		value["attestation"] = result.Attestation
	}
	return Output{Value: value, Global: map[string]any{"attestations": result.Attestation}}, nil
}
