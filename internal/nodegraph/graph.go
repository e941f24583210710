package nodegraph

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/filtergrid/internal/filter"
)

// ErrNodeNotFound is returned when an operation references an unknown node.
var ErrNodeNotFound = errors.New("node not found")

type entry struct {
	kind      Kind
	prototype string
	parents   []ID
	children  []ID
	handle    filter.Handle
}

// Graph is an in-memory View that is safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	order      []ID
	nodes      map[ID]*entry
	prototypes map[string][]string
}

var _ View = (*Graph)(nil)

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[ID]*entry),
		prototypes: make(map[string][]string),
	}
}

// AddPrototype declares a prototype and the prototypes it accepts as input.
// Declaring it again replaces the allowed inputs.
func (g *Graph) AddPrototype(name string, allowedInputs ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prototypes[name] = slices.Clone(allowedInputs)
}

// AddNode adds a node. Adding an id that already exists is a no-op and
// reports false.
func (g *Graph) AddNode(id ID, kind Kind, prototype string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return false
	}
	g.nodes[id] = &entry{kind: kind, prototype: prototype}
	g.order = append(g.order, id)
	return true
}

// Connect adds the edge parent -> child. Connecting the same pair twice is a
// no-op.
func (g *Graph) Connect(parent, child ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.nodes[parent]
	if !ok {
		return fmt.Errorf("connect %s -> %s: parent: %w", parent, child, ErrNodeNotFound)
	}
	c, ok := g.nodes[child]
	if !ok {
		return fmt.Errorf("connect %s -> %s: child: %w", parent, child, ErrNodeNotFound)
	}
	if parent == child {
		return fmt.Errorf("connect %s: node cannot be its own parent", parent)
	}
	if slices.Contains(p.children, child) {
		return nil
	}
	p.children = append(p.children, child)
	c.parents = append(c.parents, parent)
	return nil
}

// SetFilter attaches the filter handle for a filter node.
func (g *Graph) SetFilter(id ID, h filter.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("set filter %s: %w", id, ErrNodeNotFound)
	}
	if e.kind != KindFilter {
		return fmt.Errorf("set filter %s: node is of kind %s", id, e.kind)
	}
	e.handle = h
	return nil
}

// DetectCycles returns an error naming a node on a cycle, if any.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	permanent := make(map[ID]bool, len(g.nodes))
	temporary := make(map[ID]bool)

	var visit func(id ID) error
	visit = func(id ID) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return fmt.Errorf("cycle detected involving node '%s'", id)
		}
		temporary[id] = true
		for _, child := range g.nodes[id].children {
			if err := visit(child); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// Nodes implements View.
func (g *Graph) Nodes() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// Has reports whether id is part of the graph.
func (g *Graph) Has(id ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Kind implements View.
func (g *Graph) Kind(id ID) Kind {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.nodes[id]; ok {
		return e.kind
	}
	return KindOther
}

// Parents implements View.
func (g *Graph) Parents(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.nodes[id]; ok {
		return slices.Clone(e.parents)
	}
	return nil
}

// Children implements View.
func (g *Graph) Children(id ID) []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.nodes[id]; ok {
		return slices.Clone(e.children)
	}
	return nil
}

// Prototype implements View.
func (g *Graph) Prototype(id ID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.nodes[id]; ok {
		return e.prototype
	}
	return ""
}

// AllowedInputTypes implements View.
func (g *Graph) AllowedInputTypes(prototype string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.prototypes[prototype])
}

// Filter implements View.
func (g *Graph) Filter(id ID) filter.Handle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.nodes[id]; ok {
		return e.handle
	}
	return nil
}
