package scheduler

import (
	"fmt"
	"strings"

	"github.com/kitehq/kite/internal/domain"
	kerrors "github.com/kitehq/kite/internal/domain/errors"
)

// SegmentGraph is the dependency structure derived from a segment set. It
// maps names to definitions and tracks the dependents of each segment; the
// reverse direction is available through each segment's DependsOn.
type SegmentGraph struct {
	// nodes maps segment name to definition
	nodes map[string]*domain.Segment

	// order preserves the input declaration order for deterministic ties
	order []string

	// dependents maps a segment name to the segments that depend on it
	dependents map[string][]string
}

// ValidationResult carries the outcome of graph validation.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// GraphStats summarizes the parallel structure of a graph.
type GraphStats struct {
	// TotalSegments is the number of segments in the graph.
	TotalSegments int
	// LevelCount is the number of parallel levels (critical-path length).
	LevelCount int
	// MaxWidth is the largest level size.
	MaxWidth int
	// MinWidth is the smallest level size.
	MinWidth int
	// AvgWidth is the mean level size.
	AvgWidth float64
	// Efficiency is AvgWidth divided by TotalSegments; 1.0 means every
	// segment can run at once, 1/n means a pure chain.
	Efficiency float64
}

// NewSegmentGraph builds the graph structure from a segment list. The input
// is not validated here; call Validate before scheduling.
func NewSegmentGraph(segments []*domain.Segment) *SegmentGraph {
	g := &SegmentGraph{
		nodes:      make(map[string]*domain.Segment, len(segments)),
		order:      make([]string, 0, len(segments)),
		dependents: make(map[string][]string),
	}
	for _, seg := range segments {
		g.nodes[seg.Name] = seg
		g.order = append(g.order, seg.Name)
	}
	for _, seg := range segments {
		for _, dep := range seg.DependsOn {
			g.dependents[dep] = append(g.dependents[dep], seg.Name)
		}
	}
	return g
}

// Node returns the segment definition for a name.
func (g *SegmentGraph) Node(name string) (*domain.Segment, bool) {
	seg, ok := g.nodes[name]
	return seg, ok
}

// Names returns the segment names in declaration order.
func (g *SegmentGraph) Names() []string {
	return g.order
}

// Size returns the number of segments in the graph.
func (g *SegmentGraph) Size() int {
	return len(g.nodes)
}

// Dependents returns the names of segments depending on the given one.
func (g *SegmentGraph) Dependents(name string) []string {
	return g.dependents[name]
}

// Validate runs the three structural checks: missing dependency references,
// cycles, and unreachable segments. Unreachable segments caused by a missing
// dependency are reported twice, once per check; segments merely downstream
// of a cycle are not reported as unreachable.
func (g *SegmentGraph) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	missing := g.checkMissingReferences(result)
	g.checkCycles(result)
	g.checkUnreachable(result, missing)

	result.Valid = len(result.Errors) == 0
	return result
}

// checkMissingReferences reports every dependsOn entry that does not resolve
// and returns the set of segments with at least one missing dependency.
func (g *SegmentGraph) checkMissingReferences(result *ValidationResult) map[string]bool {
	affected := make(map[string]bool)
	for _, name := range g.order {
		for _, dep := range g.nodes[name].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				result.Errors = append(result.Errors,
					fmt.Sprintf("segment %q depends on unknown segment %q", name, dep))
				affected[name] = true
			}
		}
	}
	return affected
}

// checkCycles reports each detected cycle with its path.
func (g *SegmentGraph) checkCycles(result *ValidationResult) {
	for _, cycle := range g.DetectCycles() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("cyclic dependency: %s", strings.Join(cycle, " -> ")))
	}
}

// checkUnreachable walks forward from segments whose dependencies are all
// satisfiable and reports segments never reached, but only those whose
// unreachability stems from an actually-missing dependency.
func (g *SegmentGraph) checkUnreachable(result *ValidationResult, missing map[string]bool) {
	reached := make(map[string]bool)
	indegree := make(map[string]int, len(g.nodes))
	var queue []string

	for _, name := range g.order {
		indegree[name] = len(g.nodes[name].DependsOn)
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if reached[name] {
			continue
		}
		reached[name] = true
		for _, dependent := range g.dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	for _, name := range g.order {
		if reached[name] {
			continue
		}
		if !g.blockedByMissing(name, missing) {
			// Downstream of a cycle only; the cycle error already covers it.
			continue
		}
		result.Errors = append(result.Errors,
			fmt.Sprintf("segment %q is unreachable: its dependencies can never be satisfied", name))
	}
}

// blockedByMissing reports whether a segment transitively depends on a
// segment with a missing reference.
func (g *SegmentGraph) blockedByMissing(name string, missing map[string]bool) bool {
	visited := make(map[string]bool)
	var walk func(string) bool
	walk = func(current string) bool {
		if missing[current] {
			return true
		}
		if visited[current] {
			return false
		}
		visited[current] = true
		seg, ok := g.nodes[current]
		if !ok {
			return true
		}
		for _, dep := range seg.DependsOn {
			if walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(name)
}

// DetectCycles finds every dependency cycle using depth-first search with a
// recursion stack. Each cycle path runs from the first re-entered segment
// back to its closure.
func (g *SegmentGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(string)
	visit = func(name string) {
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		seg := g.nodes[name]
		if seg != nil {
			for _, dep := range seg.DependsOn {
				if _, ok := g.nodes[dep]; !ok {
					continue
				}
				if !visited[dep] {
					visit(dep)
				} else if onStack[dep] {
					// Back edge: the cycle runs from dep to the stack top.
					start := 0
					for i, n := range stack {
						if n == dep {
							start = i
							break
						}
					}
					cycle := make([]string, 0, len(stack)-start+1)
					cycle = append(cycle, stack[start:]...)
					cycle = append(cycle, dep)
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[name] = false
	}

	for _, name := range g.order {
		if !visited[name] {
			visit(name)
		}
	}
	return cycles
}

// TopologicalSort produces a linear order respecting dependencies using
// Kahn's algorithm over in-degrees. Ties break by declaration order so the
// execution order is deterministic. Sorting a cyclic graph fails with a
// CyclicDependencyError carrying the detected cycles.
func (g *SegmentGraph) TopologicalSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, name := range g.order {
		indegree[name] = len(g.nodes[name].DependsOn)
	}

	sorted := make([]string, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))

	for len(sorted) < len(g.order) {
		progressed := false
		for _, name := range g.order {
			if done[name] || indegree[name] != 0 {
				continue
			}
			done[name] = true
			sorted = append(sorted, name)
			for _, dependent := range g.dependents[name] {
				indegree[dependent]--
			}
			progressed = true
		}
		if !progressed {
			cycles := g.DetectCycles()
			return nil, &kerrors.CyclicDependencyError{Cycles: cycles}
		}
	}
	return sorted, nil
}

// Levels groups segments into parallel levels: a segment's level is one more
// than the maximum level of its dependencies, zero for roots. Segments at
// the same level are mutually independent and may execute concurrently.
func (g *SegmentGraph) Levels() ([][]string, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(sorted))
	maxLevel := 0
	for _, name := range sorted {
		l := 0
		for _, dep := range g.nodes[name].DependsOn {
			if dl, ok := level[dep]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[name] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, name := range sorted {
		l := level[name]
		levels[l] = append(levels[l], name)
	}
	return levels, nil
}

// Stats derives the parallel-structure statistics of the graph.
func (g *SegmentGraph) Stats() (*GraphStats, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	stats := &GraphStats{
		TotalSegments: len(g.nodes),
		LevelCount:    len(levels),
	}
	if len(levels) == 0 {
		return stats, nil
	}
	total := 0
	stats.MinWidth = len(levels[0])
	for _, level := range levels {
		width := len(level)
		total += width
		if width > stats.MaxWidth {
			stats.MaxWidth = width
		}
		if width < stats.MinWidth {
			stats.MinWidth = width
		}
	}
	stats.AvgWidth = float64(total) / float64(len(levels))
	if stats.TotalSegments > 0 {
		stats.Efficiency = stats.AvgWidth / float64(stats.TotalSegments)
	}
	return stats, nil
}
