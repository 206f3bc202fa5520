package handlers

import (
	"context"
	"strings"

	"github.com/zecflow/core/pathutil"
	"github.com/zecflow/core/zerrs"
)

// Input_ implements the payload-input block: returns payload[path] or the
// entire payload when no path is configured (spec.md §4.2).
func Input_(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	path, _ := str(in.Config, "path")
	if path == "" {
		return Output{Value: in.Payload}, nil
	}
	v, ok := pathutil.Resolve(in.Payload, path)
	if !ok {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "payload-input: path %q not found", path).WithNode(in.NodeID)
	}
	return Output{Value: v}, nil
}

// JSONExtract implements json-extract: a dotted-path extract from either
// payload or memory, selected by the "source" config field (spec.md §4.2).
func JSONExtract(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	source, _ := str(in.Config, "source")
	path, _ := str(in.Config, "path")
	var root any
	switch source {
	case "memory":
		root = in.Memory
	default:
		root = in.Payload
	}
	v, ok := pathutil.Resolve(root, path)
	if !ok {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "json-extract: path %q not found in %s", path, source).WithNode(in.NodeID)
	}
	return Output{Value: v}, nil
}

// MemoParser implements memo-parser: splits a memo string into key:value
// pairs by a delimiter (default ":"), per spec.md §4.2.
func MemoParser(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	memo, _ := str(in.Config, "memo")
	delim, ok := str(in.Config, "delimiter")
	if !ok || delim == "" {
		delim = ":"
	}
	parts := strings.SplitN(memo, delim, 2)
	out := map[string]any{}
	if len(parts) == 2 {
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	} else {
		out["raw"] = memo
	}
	return Output{Value: out}, nil
}
