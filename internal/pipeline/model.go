package pipeline

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/zclconf/go-cty/cty"
)

const (
	// KindFilter marks prototypes whose nodes are scheduled filters.
	KindFilter = "filter"
	// KindData marks prototypes whose nodes only carry data.
	KindData = "data"
)

// Prototype describes a family of nodes.
type Prototype struct {
	Name          string
	Kind          string
	Runner        string
	AllowedInputs []string
	Description   string
	DefRange      hcl.Range
}

// IsFilter reports whether nodes of this prototype are filters.
func (p *Prototype) IsFilter() bool { return p.Kind == KindFilter }

// Node is one node instance.
type Node struct {
	ID         nodegraph.ID
	Prototype  string
	Name       string
	Parents    []nodegraph.ID
	Properties map[string]cty.Value
	DefRange   hcl.Range
}

// Pipeline is the merged content of all loaded files.
type Pipeline struct {
	Prototypes map[string]*Prototype
	Nodes      []*Node

	byID map[nodegraph.ID]*Node
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		Prototypes: make(map[string]*Prototype),
		byID:       make(map[nodegraph.ID]*Node),
	}
}

// Node looks a node up by id.
func (p *Pipeline) Node(id nodegraph.ID) (*Node, bool) {
	n, ok := p.byID[id]
	return n, ok
}

// PrototypeOf returns the prototype of a node.
func (p *Pipeline) PrototypeOf(n *Node) *Prototype {
	return p.Prototypes[n.Prototype]
}

// Runners maps every filter prototype to its runner name.
func (p *Pipeline) Runners() map[string]string {
	runners := make(map[string]string)
	for name, proto := range p.Prototypes {
		if proto.IsFilter() {
			runners[name] = proto.Runner
		}
	}
	return runners
}

// hclFile is the top-level structure of a pipeline file.
type hclFile struct {
	Prototypes []*hclPrototype `hcl:"prototype,block"`
	Nodes      []*hclNode      `hcl:"node,block"`
}

type hclPrototype struct {
	Name          string    `hcl:"name,label"`
	Kind          string    `hcl:"kind"`
	Runner        string    `hcl:"runner,optional"`
	AllowedInputs []string  `hcl:"allowed_inputs,optional"`
	Description   string    `hcl:"description,optional"`
	Body          hcl.Body  `hcl:",body"`
}

type hclNode struct {
	Prototype  string         `hcl:"prototype,label"`
	Name       string         `hcl:"name,label"`
	Parents    []string       `hcl:"parents,optional"`
	Properties *hclProperties `hcl:"properties,block"`
	Body       hcl.Body       `hcl:",body"`
}

type hclProperties struct {
	Body hcl.Body `hcl:",remain"`
}

// rangeOf returns the source range of a decoded block body.
func rangeOf(body hcl.Body) hcl.Range {
	if sb, ok := body.(*hclsyntax.Body); ok {
		return sb.SrcRange
	}
	return body.MissingItemRange()
}
