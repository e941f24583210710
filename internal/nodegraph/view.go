package nodegraph

import "github.com/vk/filtergrid/internal/filter"

// ID identifies a node in the graph.
type ID string

// Kind tags a node as a filter or anything else.
type Kind int

const (
	// KindOther is any node that is not a filter (data, visualizers, ...).
	KindOther Kind = iota
	// KindFilter is a node that computes outputs from its inputs.
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// View is the read-only graph query surface. Queries about unknown ids
// return zero values.
type View interface {
	// Nodes returns every node id in insertion order.
	Nodes() []ID
	Kind(id ID) Kind
	// Parents returns the direct parents of id, in connection order.
	Parents(id ID) []ID
	// Children returns the direct children of id, in connection order.
	Children(id ID) []ID
	Prototype(id ID) string
	// AllowedInputTypes lists the prototypes a node of the given prototype
	// accepts as input. An empty result means unrestricted.
	AllowedInputTypes(prototype string) []string
	// Filter returns the filter handle of id, or nil for non-filter nodes.
	Filter(id ID) filter.Handle
}
