// Package dag validates and orders workflow step-dependency graphs.
// Steps are interned into an integer-indexed arena up front; all traversal
// works on int indices, with names only resolved at the API boundary.
package dag

import "sort"

// Node is one step as seen by the scheduler.
type Node struct {
	// Name is the step name, unique within the graph.
	Name string
	// DependsOn names the steps that must complete first.
	DependsOn []string
}

// Graph is a validated, acyclic step-dependency graph.
type Graph struct {
	names []string         // index -> name, in declaration order
	index map[string]int   // name -> index
	deps  [][]int          // index -> dependency indices
	rdeps [][]int          // index -> dependent indices
}

// Build validates nodes and constructs a graph. It fails with a
// ConfigurationError for duplicate names or unknown dependency references,
// and with a CircularDependencyError naming the full cycle path when the
// dependency relation is cyclic.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		names: make([]string, len(nodes)),
		index: make(map[string]int, len(nodes)),
		deps:  make([][]int, len(nodes)),
		rdeps: make([][]int, len(nodes)),
	}

	for i, node := range nodes {
		if node.Name == "" {
			return nil, &ConfigurationError{Step: node.Name, Reason: "step name is empty"}
		}
		if _, dup := g.index[node.Name]; dup {
			return nil, &ConfigurationError{Step: node.Name, Reason: "duplicate step name"}
		}
		g.names[i] = node.Name
		g.index[node.Name] = i
	}

	for i, node := range nodes {
		for _, dep := range node.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, &ConfigurationError{Step: node.Name, Reason: "depends on unknown step " + dep}
			}
			if j == i {
				return nil, &CircularDependencyError{Path: []string{node.Name, node.Name}}
			}
			g.deps[i] = append(g.deps[i], j)
			g.rdeps[j] = append(g.rdeps[j], i)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CircularDependencyError{Path: cycle}
	}
	return g, nil
}

// findCycle runs three-color depth-first search and returns the cycle path
// (entry step repeated at the end) or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make([]int, len(g.names))
	var stack []int

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = gray
		stack = append(stack, i)

		for _, j := range g.deps[i] {
			switch color[j] {
			case gray:
				// Found the back edge; slice the stack from j's first
				// occurrence to get the cycle.
				for k, idx := range stack {
					if idx == j {
						cycle := make([]string, 0, len(stack)-k+1)
						for _, s := range stack[k:] {
							cycle = append(cycle, g.names[s])
						}
						return append(cycle, g.names[j])
					}
				}
			case white:
				if cycle := visit(j); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range g.names {
		if color[i] == white {
			if cycle := visit(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Len returns the number of steps.
func (g *Graph) Len() int {
	return len(g.names)
}

// Steps returns all step names in declaration order.
func (g *Graph) Steps() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Dependencies returns the dependency names of a step, or nil for an
// unknown step.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.deps[i]))
	for _, j := range g.deps[i] {
		out = append(out, g.names[j])
	}
	return out
}

// TopologicalOrder returns a linear order consistent with all dependency
// edges. Ties are broken by declaration order, so the result is stable
// and deterministic.
func (g *Graph) TopologicalOrder() []string {
	indegree := make([]int, len(g.names))
	for i := range g.deps {
		indegree[i] = len(g.deps[i])
	}

	// Kahn's algorithm with a sorted ready set for stable tie-breaking.
	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, g.names[i])
		for _, j := range g.rdeps[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}
	return order
}

// ExecutionGroups partitions steps into dependency levels: group 0 holds
// steps with no dependencies, and every step in group k depends only on
// steps in groups 0..k-1. Within a group, declaration order is preserved.
func (g *Graph) ExecutionGroups() [][]string {
	level := make([]int, len(g.names))
	var levelOf func(i int) int
	levelOf = func(i int) int {
		if level[i] > 0 {
			return level[i]
		}
		max := 0
		for _, j := range g.deps[i] {
			if l := levelOf(j); l > max {
				max = l
			}
		}
		level[i] = max + 1
		return level[i]
	}

	maxLevel := 0
	for i := range g.names {
		if l := levelOf(i); l > maxLevel {
			maxLevel = l
		}
	}

	groups := make([][]string, maxLevel)
	for i, name := range g.names {
		groups[level[i]-1] = append(groups[level[i]-1], name)
	}
	return groups
}

// ReadySteps returns steps not in started whose dependencies are all in
// completed, in declaration order. It enables finer-grained dispatch than
// static groups: a step starts as soon as its own dependencies finish.
func (g *Graph) ReadySteps(completed, started map[string]bool) []string {
	var ready []string
	for i, name := range g.names {
		if started[name] || completed[name] {
			continue
		}
		ok := true
		for _, j := range g.deps[i] {
			if !completed[g.names[j]] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	return ready
}

// SkipSet returns every step that transitively depends on a step in
// failed. Those steps must be marked skipped and never dispatched.
func (g *Graph) SkipSet(failed map[string]bool) map[string]bool {
	skip := make(map[string]bool)
	var mark func(i int)
	mark = func(i int) {
		for _, j := range g.rdeps[i] {
			if !skip[g.names[j]] {
				skip[g.names[j]] = true
				mark(j)
			}
		}
	}
	for name := range failed {
		if i, ok := g.index[name]; ok {
			mark(i)
		}
	}
	return skip
}
