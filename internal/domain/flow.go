package domain

import (
	"time"

	kerrors "github.com/kitehq/kite/internal/domain/errors"
)

// FlowKind tags the variant of a FlowNode.
type FlowKind string

const (
	// FlowSegmentRef references a segment by name.
	FlowSegmentRef FlowKind = "segment"
	// FlowSequential composes children executed one after another.
	FlowSequential FlowKind = "sequential"
	// FlowParallel composes children whose relative order is unconstrained.
	FlowParallel FlowKind = "parallel"
)

// SegmentOverrides carries optional per-flow overrides for a referenced
// segment. Nil pointers leave the segment definition untouched.
type SegmentOverrides struct {
	Timeout    *time.Duration
	MaxRetries *int
	RetryDelay *time.Duration
	Env        map[string]string
}

// FlowNode is a tagged variant describing which segments to run and in what
// composition. Exactly one of the variants applies, selected by Kind.
type FlowNode struct {
	Kind      FlowKind
	Name      string            // set for FlowSegmentRef
	Overrides *SegmentOverrides // optional, FlowSegmentRef only
	Children  []*FlowNode       // set for FlowSequential and FlowParallel
}

// SegmentRef creates a flow node referencing a segment by name.
func SegmentRef(name string) *FlowNode {
	return &FlowNode{Kind: FlowSegmentRef, Name: name}
}

// SegmentRefWith creates a flow node referencing a segment with overrides.
func SegmentRefWith(name string, overrides *SegmentOverrides) *FlowNode {
	return &FlowNode{Kind: FlowSegmentRef, Name: name, Overrides: overrides}
}

// Sequential creates a flow node whose children run in declaration order.
func Sequential(children ...*FlowNode) *FlowNode {
	return &FlowNode{Kind: FlowSequential, Children: children}
}

// Parallel creates a flow node whose children are mutually unordered.
func Parallel(children ...*FlowNode) *FlowNode {
	return &FlowNode{Kind: FlowParallel, Children: children}
}

// Validate checks the structural invariants of the flow tree: sequential and
// parallel blocks must have at least one child, and segment references must
// carry a name. An empty parallel block is representable but invalid.
func (n *FlowNode) Validate() error {
	switch n.Kind {
	case FlowSegmentRef:
		if isBlank(n.Name) {
			return kerrors.NewValidationError("flow", "segment reference must carry a name")
		}
		return nil
	case FlowSequential:
		if len(n.Children) == 0 {
			return kerrors.NewValidationError("flow", "sequential block must have at least one child")
		}
	case FlowParallel:
		if len(n.Children) == 0 {
			return kerrors.NewValidationError("flow", "parallel block must have at least one child")
		}
	default:
		return kerrors.NewValidationError("flow", "unknown flow node kind: "+string(n.Kind))
	}
	for _, child := range n.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SegmentNames collects every referenced segment name in traversal order,
// de-duplicated on first occurrence. The resulting set is what the scheduler
// receives for a ride invocation.
func (n *FlowNode) SegmentNames() []string {
	seen := make(map[string]bool)
	var names []string
	n.walk(func(ref *FlowNode) {
		if !seen[ref.Name] {
			seen[ref.Name] = true
			names = append(names, ref.Name)
		}
	})
	return names
}

// OverridesFor returns the overrides attached to the first reference of the
// given segment name, or nil.
func (n *FlowNode) OverridesFor(name string) *SegmentOverrides {
	var found *SegmentOverrides
	n.walk(func(ref *FlowNode) {
		if found == nil && ref.Name == name {
			found = ref.Overrides
		}
	})
	return found
}

func (n *FlowNode) walk(visit func(ref *FlowNode)) {
	switch n.Kind {
	case FlowSegmentRef:
		visit(n)
	case FlowSequential, FlowParallel:
		for _, child := range n.Children {
			child.walk(visit)
		}
	}
}
