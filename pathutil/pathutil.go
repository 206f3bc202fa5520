// Package pathutil resolves dotted paths against the document trees the
// engine and its handlers pass around (payload, memory, HTTP response
// bodies). It has no dependency on engine or handlers so both can import
// it without forming a cycle: the engine's run-if gate and config
// resolution, the transform handlers' payload/memory lookups, and the
// HTTP poller's recordsPath extraction all route through it (spec.md §9
// "Re-architecture points").
package pathutil

import (
	"strconv"
	"strings"
)

// Resolve looks up a dotted path against a document tree. A bare path
// like "amt" dereferences a top-level key; "payload.x" reaches into a
// nested map the same way — both live in one flat map, not a nested
// two-key wrapper, per spec.md §4.1 "resolve ... against {payload,
// memory}".
func Resolve(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ResolveEqual reports whether the value at path within root equals want,
// using a best-effort structural comparison (numbers compared as
// float64). Used by the run-if gate (spec.md §4.1).
func ResolveEqual(root any, path string, want any) bool {
	got, ok := Resolve(root, path)
	if !ok {
		return false
	}
	return looseEqual(got, want)
}

func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// IsPathKey reports whether a config key name is recognised as a path
// reference per spec.md §4.1: a suffix of "Path", or the literal keys
// "path"/"sourcePath".
func IsPathKey(key string) bool {
	if key == "path" || key == "sourcePath" {
		return true
	}
	return strings.HasSuffix(key, "Path")
}

// ResolveConfig dereferences every path-recognised string value in config
// against memory (spec.md §4.1 "Resolve inputs"); non-path keys pass
// through verbatim. A path key whose string value fails to resolve is
// left absent from the result — the caller turns a missing *required*
// path into config_invalid at the call site.
func ResolveConfig(config map[string]any, memory map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		s, isStr := v.(string)
		if isStr && IsPathKey(k) {
			if resolved, ok := Resolve(memory, s); ok {
				out[k] = resolved
			}
			continue
		}
		out[k] = v
	}
	return out
}
