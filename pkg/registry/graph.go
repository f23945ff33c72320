package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a dependency graph over service names. An edge A -> B means A depends on B,
// so B must be initialized before A. Node order is insertion order and drives every
// tie-break, which makes all traversals deterministic.
type Graph struct {
	// order lists node IDs in insertion order.
	order []string

	// index maps node IDs to their insertion index.
	index map[string]int

	// dependencies maps node IDs to their declared dependencies, de-duplicated.
	dependencies map[string][]string

	// dependents maps node IDs to the registered nodes that depend on them.
	dependents map[string][]string
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		order:        make([]string, 0),
		index:        make(map[string]int),
		dependencies: make(map[string][]string),
		dependents:   make(map[string][]string),
	}
}

// AddNode adds a node with its declared dependencies. Adding an existing node
// replaces its dependencies and keeps its original position.
func (g *Graph) AddNode(id string, deps ...string) {
	if _, exists := g.index[id]; !exists {
		g.index[id] = len(g.order)
		g.order = append(g.order, id)
	} else {
		for _, old := range g.dependencies[id] {
			g.dependents[old] = removeString(g.dependents[old], id)
		}
	}

	clean := dedupe(deps)
	g.dependencies[id] = clean
	for _, dep := range clean {
		g.dependents[dep] = append(g.dependents[dep], id)
	}
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// DependenciesOf returns the declared dependencies of id.
func (g *Graph) DependenciesOf(id string) []string {
	return append([]string(nil), g.dependencies[id]...)
}

// DependentsOf returns the nodes that declare a dependency on id, in insertion order.
func (g *Graph) DependentsOf(id string) []string {
	out := append([]string(nil), g.dependents[id]...)
	sort.SliceStable(out, func(i, j int) bool { return g.index[out[i]] < g.index[out[j]] })
	return out
}

// Missing returns every declared dependency that is not a node, ordered by the
// dependent's insertion order and then by declaration order.
func (g *Graph) Missing() []MissingDependency {
	var missing []MissingDependency
	for _, id := range g.order {
		for _, dep := range g.dependencies[id] {
			if !g.Has(dep) {
				missing = append(missing, MissingDependency{Service: id, Dependency: dep})
			}
		}
	}
	return missing
}

type color int

const (
	white color = iota
	grey
	black
)

// Cycles returns every distinct cycle found by a three-colour depth-first search.
// Roots are visited in insertion order and dependencies in declaration order.
// Each cycle starts and ends with the node that closed it, e.g. [A B C A].
// Edges to missing nodes are ignored.
func (g *Graph) Cycles() [][]string {
	colors := make(map[string]color, len(g.order))
	seen := make(map[string]bool)
	var cycles [][]string

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		colors[id] = grey
		path = append(path, id)

		for _, dep := range g.dependencies[id] {
			if !g.Has(dep) {
				continue
			}
			switch colors[dep] {
			case white:
				visit(dep, path)
			case grey:
				start := indexOf(path, dep)
				cycle := append(append([]string(nil), path[start:]...), dep)
				key := canonicalCycle(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		colors[id] = black
	}

	for _, id := range g.order {
		if colors[id] == white {
			visit(id, make([]string, 0, len(g.order)))
		}
	}

	return cycles
}

// Errors returns missing-dependency errors followed by one circular dependency
// error per distinct cycle.
func (g *Graph) Errors() []error {
	var errs []error
	for _, m := range g.Missing() {
		errs = append(errs, NewMissingDependencyError(m.Service, m.Dependency))
	}
	for _, cycle := range g.Cycles() {
		errs = append(errs, NewCircularDependencyError(cycle))
	}
	return errs
}

// Validate returns a consolidated *ValidationReport, or nil for a valid graph.
func (g *Graph) Validate() error {
	if report := NewValidationReport(g.Errors()); report != nil {
		return report
	}
	return nil
}

// TopologicalOrder returns an initialization order in which every node follows
// all of its dependencies. Among nodes that are ready at the same time, the one
// inserted first comes first.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	// Kahn's algorithm with a ready list kept sorted by insertion index.
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.dependencies[id])
	}

	ready := make([]string, 0)
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range g.dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = g.insertSorted(ready, dependent)
			}
		}
	}

	if len(order) != len(g.order) {
		return nil, fmt.Errorf("failed to order all services: %d of %d processed", len(order), len(g.order))
	}

	return order, nil
}

// Levels groups nodes into initialization levels. Level 0 holds nodes without
// dependencies; every other node sits one level above its deepest dependency.
// Nodes in the same level are independent and keep insertion order.
func (g *Graph) Levels() ([][]string, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	levelOf := make(map[string]int, len(order))
	depth := 0
	for _, id := range order {
		level := 0
		for _, dep := range g.dependencies[id] {
			if l := levelOf[dep] + 1; l > level {
				level = l
			}
		}
		levelOf[id] = level
		if level+1 > depth {
			depth = level + 1
		}
	}

	levels := make([][]string, depth)
	for _, id := range g.order {
		levels[levelOf[id]] = append(levels[levelOf[id]], id)
	}

	return levels, nil
}

// ShutdownOrder returns the reverse of the topological order.
func (g *Graph) ShutdownOrder() ([]string, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	return Reverse(order), nil
}

// ToDOT generates a Graphviz representation of the graph. When status is not nil
// nodes are coloured by lifecycle status. Invalid graphs are rendered without levels.
func (g *Graph) ToDOT(status func(string) ServiceStatus) string {
	var sb strings.Builder

	sb.WriteString("digraph ServiceGraph {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	writeNode := func(indent, id string) {
		fill := "white"
		if status != nil {
			fill = statusColor(status(id))
		}
		sb.WriteString(fmt.Sprintf("%s\"%s\" [fillcolor=\"%s\", style=\"filled,rounded\"];\n", indent, id, fill))
	}

	if levels, err := g.Levels(); err == nil {
		for level, ids := range levels {
			sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
			sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
			sb.WriteString("    style=dashed;\n")
			for _, id := range ids {
				writeNode("    ", id)
			}
			sb.WriteString("  }\n\n")
		}
	} else {
		for _, id := range g.order {
			writeNode("  ", id)
		}
		sb.WriteString("\n")
	}

	for _, id := range g.order {
		for _, dep := range g.dependencies[id] {
			style := "style=solid, color=black"
			if !g.Has(dep) {
				style = "style=dashed, color=red"
			}
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", id, dep, style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// insertSorted inserts id into ready, keeping ready ordered by insertion index.
func (g *Graph) insertSorted(ready []string, id string) []string {
	pos := sort.Search(len(ready), func(i int) bool { return g.index[ready[i]] > g.index[id] })
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}

// statusColor returns a fill colour for visualizing service status.
func statusColor(s ServiceStatus) string {
	switch s {
	case StatusInitialized:
		return "lightgreen"
	case StatusInitializing:
		return "lightyellow"
	case StatusError:
		return "lightcoral"
	case StatusShutdown:
		return "lightgray"
	default:
		return "white"
	}
}

// canonicalCycle returns a rotation-independent key for a closed cycle.
func canonicalCycle(cycle []string) string {
	nodes := cycle[:len(cycle)-1]
	if len(nodes) == 0 {
		return ""
	}
	minIdx := 0
	for i, n := range nodes {
		if n < nodes[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]string(nil), nodes[minIdx:]...), nodes[:minIdx]...)
	return strings.Join(rotated, "\x00")
}

// Reverse returns a reversed copy of ids.
func Reverse(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
