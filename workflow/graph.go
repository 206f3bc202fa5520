// Package workflow validates a graph and computes the deterministic
// execution order the engine walks, per spec.md §3 "Graph invariants"
// and §4.1 steps 5-6. Cycle detection and edge bookkeeping are delegated
// to github.com/heimdalr/dag; the topological order itself, with its
// lexicographic tie-break, is computed by Order.
package workflow

import (
	"fmt"
	"sort"

	"github.com/heimdalr/dag"

	"github.com/zecflow/core/model"
	"github.com/zecflow/core/zerrs"
)

// Validated is a graph that has passed Validate, carrying the indexed
// lookups Order and Execute need so they don't re-scan the node slice.
type Validated struct {
	Graph *model.Graph
	nodes map[string]model.Node
	d     *dag.DAG
}

// Validate checks the invariants in spec.md §3: non-empty, every edge
// refers to existing nodes, aliases unique, acyclic. It never trusts a
// persisted graph — called both at publish time and at every run start
// (spec.md §9).
func Validate(g *model.Graph) (*Validated, *zerrs.Error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, zerrs.New(zerrs.GraphMissing, "workflow graph is empty")
	}

	nodes := make(map[string]model.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := nodes[n.ID]; dup {
			return nil, zerrs.New(zerrs.GraphInvalid, "duplicate node id %q", n.ID)
		}
		nodes[n.ID] = n
	}

	aliases := make(map[string]bool)
	for _, n := range g.Nodes {
		if n.Alias == "" {
			continue
		}
		if aliases[n.Alias] {
			return nil, zerrs.New(zerrs.GraphInvalid, "duplicate alias %q", n.Alias)
		}
		aliases[n.Alias] = true
	}

	d := dag.NewDAG()
	for _, n := range g.Nodes {
		if _, err := d.AddVertex(vertex(n.ID)); err != nil {
			return nil, zerrs.New(zerrs.GraphInvalid, "add node %q: %v", n.ID, err)
		}
	}
	for _, e := range g.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, zerrs.New(zerrs.GraphInvalid, "edge %q: unknown source %q", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, zerrs.New(zerrs.GraphInvalid, "edge %q: unknown target %q", e.ID, e.Target)
		}
		if err := d.AddEdge(string(e.Source), string(e.Target)); err != nil {
			return nil, zerrs.New(zerrs.GraphInvalid, "edge %q (%s->%s) would cycle: %v", e.ID, e.Source, e.Target, err)
		}
	}

	return &Validated{Graph: g, nodes: nodes, d: d}, nil
}

// vertex adapts a bare node id string to heimdalr/dag's IDInterface.
type vertex string

func (v vertex) ID() string { return string(v) }

// Order returns the execution order: a topological sort with ties broken
// by node id lexicographically, so runs of the same graph are
// deterministic (spec.md §4.1 step 6).
func (v *Validated) Order() []model.Node {
	depCount := make(map[string]int, len(v.nodes))
	dependents := make(map[string][]string, len(v.nodes))
	for id := range v.nodes {
		depCount[id] = 0
	}
	for _, e := range v.Graph.Edges {
		depCount[e.Target]++
		dependents[e.Source] = append(dependents[e.Source], e.Target)
	}

	var ready []string
	for id, c := range depCount {
		if c == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]model.Node, 0, len(v.nodes))
	remaining := map[string]int{}
	for k, val := range depCount {
		remaining[k] = val
	}

	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, v.nodes[id])

		next := append([]string{}, dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}

// Node looks up a node by id within the validated graph.
func (v *Validated) Node(id string) (model.Node, bool) {
	n, ok := v.nodes[id]
	return n, ok
}

// IncomingHandles returns, for a node with multiple incoming edges using
// distinct targetHandle values (e.g. an if/else's "true"/"false" ports or
// a math block's "a"/"b" operands), the mapping handle -> source node id,
// per spec.md §4.1 "Tie-breaking and branching".
func (v *Validated) IncomingHandles(nodeID string) map[string]string {
	handles := map[string]string{}
	for _, e := range v.Graph.Edges {
		if e.Target != nodeID {
			continue
		}
		handle := e.TargetHandle
		if handle == "" {
			handle = fmt.Sprintf("in%d", len(handles))
		}
		handles[handle] = e.Source
	}
	return handles
}
