package handlers

import (
	"context"

	"github.com/zecflow/core/zerrs"
)

// IfElse implements logic-if-else: consults the named "condition" handle
// (or a condition/conditionPath config value) and returns
// {"branch": "true"|"false", "condition": <value>}, per spec.md §4.1
// "Tie-breaking and branching". The engine is
// responsible for treating the non-taken branch's downstream nodes as
// gated off via runIf wiring generated at graph-build time; this handler
// only resolves which side fired.
func IfElse(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	cond, ok := in.Handles["condition"]
	if !ok {
		// Fall back to a resolved conditionPath/condition config value —
		// many graphs wire the condition as a path rather than an
		// incoming edge handle (spec.md §4.1 "Resolve inputs").
		if v, found := in.Config["condition"]; found {
			cond, ok = v, true
		} else if v, found := in.Config["conditionPath"]; found {
			cond, ok = v, true
		}
	}
	if !ok {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "logic-if-else: no condition value on handle or config").WithNode(in.NodeID)
	}
	truthy := isTruthy(cond)
	branch := "false"
	if truthy {
		branch = "true"
	}
	return Output{Value: map[string]any{"branch": branch, "condition": cond}}, nil
}

// Math implements a minimal logic-math block consuming "a"/"b" handles,
// spec.md §4.1 "math-like blocks consume a, b handles".
func Math(ctx context.Context, deps *Deps, in Input) (Output, *zerrs.Error) {
	a, aok := toNumber(in.Handles["a"])
	b, bok := toNumber(in.Handles["b"])
	if !aok || !bok {
		return Output{}, zerrs.New(zerrs.ConfigInvalid, "logic-math: a and b handles must be numeric").WithNode(in.NodeID)
	}
	op, _ := str(in.Config, "operator")
	var result float64
	switch op {
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return Output{}, zerrs.New(zerrs.ConfigInvalid, "logic-math: divide by zero").WithNode(in.NodeID)
		}
		result = a / b
	default:
		result = a + b
	}
	return Output{Value: result}, nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
