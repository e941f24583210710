package pipeline

import (
	"fmt"
	"sort"

	"github.com/vk/filtergrid/internal/filter"
	"github.com/vk/filtergrid/internal/nodegraph"
)

// HandleFactory creates the filter handle for a filter node.
type HandleFactory func(n *Node) (filter.Handle, error)

// Graph builds the node graph of the pipeline. Filter nodes get their
// handle from factory. Cyclic pipelines are rejected.
func (p *Pipeline) Graph(factory HandleFactory) (*nodegraph.Graph, error) {
	g := nodegraph.New()

	names := make([]string, 0, len(p.Prototypes))
	for name := range p.Prototypes {
		names = append(names, name)
	}
	sortStrings(names)
	for _, name := range names {
		g.AddPrototype(name, p.Prototypes[name].AllowedInputs...)
	}

	for _, n := range p.Nodes {
		kind := nodegraph.KindOther
		if p.PrototypeOf(n).IsFilter() {
			kind = nodegraph.KindFilter
		}
		g.AddNode(n.ID, kind, n.Prototype)
	}
	for _, n := range p.Nodes {
		for _, parent := range n.Parents {
			if err := g.Connect(parent, n.ID); err != nil {
				return nil, fmt.Errorf("%s: %w", n.DefRange, err)
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	for _, n := range p.Nodes {
		if !p.PrototypeOf(n).IsFilter() {
			continue
		}
		h, err := factory(n)
		if err != nil {
			return nil, fmt.Errorf("node '%s': %w", n.ID, err)
		}
		if err := g.SetFilter(n.ID, h); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func sortStrings(s []string) { sort.Strings(s) }
