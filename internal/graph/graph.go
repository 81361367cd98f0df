// Package graph evaluates a fixed set of named build steps in dependency
// order. Each node decides from the filesystem whether its action must run;
// nothing is cached between runs.
package graph

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"github.com/zenwm/zenbuild/internal/logx"
)

// Node is one build step.
type Node struct {
	Name string
	// Deps name the nodes that must be evaluated first.
	Deps []string
	// Stale reports whether Action must run. Nil means always.
	Stale func() (bool, error)
	Action func(ctx context.Context) error
}

// Graph is a validated, acyclic set of nodes.
type Graph struct {
	nodes    []Node
	index    map[string]int
	outgoing [][]int
	indeg    []int
	order    []int
}

// New validates nodes and fixes their evaluation order. Among nodes whose
// dependencies are satisfied, declaration order wins, so the order is the
// same on every run.
func New(nodes ...Node) (*Graph, error) {
	g := &Graph{
		nodes:    nodes,
		index:    make(map[string]int, len(nodes)),
		outgoing: make([][]int, len(nodes)),
		indeg:    make([]int, len(nodes)),
	}
	for i, n := range nodes {
		if n.Name == "" {
			return nil, invalidf("node %d has no name", i)
		}
		if n.Action == nil {
			return nil, invalidf("node %q has no action", n.Name)
		}
		if _, dup := g.index[n.Name]; dup {
			return nil, invalidf("duplicate node %q", n.Name)
		}
		g.index[n.Name] = i
	}
	for i, n := range nodes {
		seen := make(map[string]bool, len(n.Deps))
		for _, dep := range n.Deps {
			j, ok := g.index[dep]
			if !ok {
				return nil, invalidf("node %q depends on unknown node %q", n.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.outgoing[j] = append(g.outgoing[j], i)
			g.indeg[i]++
		}
	}

	g.order = g.topoOrder()
	if len(g.order) != len(nodes) {
		return nil, cycleError(g.findCycle())
	}
	return g, nil
}

// Order returns node names in evaluation order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	for i, n := range g.order {
		out[i] = g.nodes[n].Name
	}
	return out
}

// Report lists what Run did.
type Report struct {
	Ran     []string
	Skipped []string
}

// Run evaluates every node once, sequentially. The first failing predicate
// or action ends the run; nodes after it are not evaluated.
func (g *Graph) Run(ctx context.Context, logger *slog.Logger) (*Report, error) {
	logger = logx.OrNop(logger)
	report := &Report{}
	for _, i := range g.order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n := g.nodes[i]
		stale := true
		if n.Stale != nil {
			var err error
			if stale, err = n.Stale(); err != nil {
				return report, err
			}
		}
		if !stale {
			logger.Debug("up to date", "step", n.Name)
			report.Skipped = append(report.Skipped, n.Name)
			continue
		}

		start := time.Now()
		logger.Debug("running", "step", n.Name)
		if err := n.Action(ctx); err != nil {
			return report, err
		}
		logger.Debug("done", "step", n.Name, "elapsed", time.Since(start).Round(time.Millisecond))
		report.Ran = append(report.Ran, n.Name)
	}
	return report, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm with a min-heap ready queue keyed by
// declaration index.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a name path that starts and ends on the
// same node.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))
	var stack []int
	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				for k := len(stack) - 1; k >= 0; k-- {
					if stack[k] == v {
						cycle = append(append(cycle, stack[k:]...), v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	names := make([]string, len(cycle))
	for i, n := range cycle {
		names[i] = g.nodes[n].Name
	}
	return names
}
