package handlers

import (
	"context"

	"github.com/zecflow/core/zerrs"
)

// StateStore implements state-store: writes an encrypted record to a
// named collection under a supplied key, returning a stateKey reference
// (spec.md §4.2). The storage vault itself is responsible for at-rest
// encryption; the engine never sees plaintext beyond this call.
func StateStore(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	collection, _ := str(in.Config, "collection")
	if collection == "" {
		collection = "default"
	}
	key, ok := str(in.Config, "key")
	if !ok || key == "" {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "state-store: key is required").WithNode(in.NodeID)
	}
	value := in.Config["value"]

	ref, err := deps.Storage.Put(ctx, collection, key, value)
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "state-store: put failed").WithNode(in.NodeID)
	}
	return Output{Value: map[string]any{"stateKey": ref}, Global: map[string]any{"stateKey": ref}}, nil
}

// StateRead implements state-read: reads and decrypts a record by key
// from a named collection (spec.md §4.2).
func StateRead(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	collection, _ := str(in.Config, "collection")
	if collection == "" {
		collection = "default"
	}
	key, ok := str(in.Config, "key")
	if !ok || key == "" {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "state-read: key is required").WithNode(in.NodeID)
	}

	value, found, err := deps.Storage.Get(ctx, collection, key)
	if err != nil {
		if ze, ok := zerrs.As(err); ok {
			return Output{}, ze.WithNode(in.NodeID)
		}
		return Output{}, zerrs.Wrap(zerrs.HandlerTransient, err, "state-read: get failed").WithNode(in.NodeID)
	}
	if !found {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "state-read: no record for key %q in %q", key, collection).WithNode(in.NodeID)
	}
	return Output{Value: value}, nil
}
