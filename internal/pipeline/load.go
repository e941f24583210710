package pipeline

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/fsutil"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/nodeid"
	"github.com/zclconf/go-cty/cty"
)

// Loader parses pipeline files. A Loader may be reused for several loads.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load reads every .hcl file under path (a file or a directory) and
// returns the validated pipeline.
func (l *Loader) Load(ctx context.Context, path string) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading pipeline from path.", "path", path)

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find pipeline files in %s: %w", path, err)
	}
	if len(files) == 0 {
		logger.Warn("No .hcl pipeline files found in path.", "path", path)
	}

	p := New()
	for _, file := range files {
		hclFile, diags := l.parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := p.add(hclFile.Body); err != nil {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, err)
		}
		logger.Debug("Loaded pipeline file.", "file", file)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	logger.Info("Pipeline loaded.", "files", len(files), "prototypes", len(p.Prototypes), "nodes", len(p.Nodes))
	return p, nil
}

// Parse loads a pipeline from in-memory sources keyed by file name.
func (l *Loader) Parse(sources map[string][]byte) (*Pipeline, error) {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sortStrings(names)

	p := New()
	for _, name := range names {
		hclFile, diags := l.parser.ParseHCL(sources[name], name)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", name, diags)
		}
		if err := p.add(hclFile.Body); err != nil {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", name, err)
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) add(body hcl.Body) error {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return diags
	}

	for _, hp := range parsed.Prototypes {
		defRange := rangeOf(hp.Body)
		if prev, exists := p.Prototypes[hp.Name]; exists {
			return fmt.Errorf("%s: prototype '%s' already declared at %s", defRange, hp.Name, prev.DefRange)
		}
		switch hp.Kind {
		case KindFilter:
			if hp.Runner == "" {
				return fmt.Errorf("%s: filter prototype '%s' needs a runner", defRange, hp.Name)
			}
		case KindData:
		default:
			return fmt.Errorf("%s: prototype '%s' has unknown kind %q (want %q or %q)", defRange, hp.Name, hp.Kind, KindFilter, KindData)
		}
		p.Prototypes[hp.Name] = &Prototype{
			Name:          hp.Name,
			Kind:          hp.Kind,
			Runner:        hp.Runner,
			AllowedInputs: hp.AllowedInputs,
			Description:   hp.Description,
			DefRange:      defRange,
		}
	}

	for _, hn := range parsed.Nodes {
		defRange := rangeOf(hn.Body)
		ref, err := nodeid.New(hn.Prototype, hn.Name)
		if err != nil {
			return fmt.Errorf("%s: %w", defRange, err)
		}
		id := nodegraph.ID(ref.String())
		if prev, exists := p.byID[id]; exists {
			return fmt.Errorf("%s: node '%s' already declared at %s", defRange, id, prev.DefRange)
		}

		n := &Node{
			ID:         id,
			Prototype:  hn.Prototype,
			Name:       hn.Name,
			Properties: map[string]cty.Value{},
			DefRange:   defRange,
		}
		for _, raw := range hn.Parents {
			parent, err := nodeid.Parse(raw)
			if err != nil {
				return fmt.Errorf("%s: node '%s' parent: %w", defRange, id, err)
			}
			n.Parents = append(n.Parents, nodegraph.ID(parent.String()))
		}
		if hn.Properties != nil {
			props, err := evalProperties(hn.Properties.Body)
			if err != nil {
				return fmt.Errorf("%s: node '%s' properties: %w", defRange, id, err)
			}
			n.Properties = props
		}

		p.Nodes = append(p.Nodes, n)
		p.byID[id] = n
	}
	return nil
}

func evalProperties(body hcl.Body) (map[string]cty.Value, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	props := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		props[name] = val
	}
	return props, nil
}

// validate runs the checks that need every file to be loaded.
func (p *Pipeline) validate() error {
	for _, n := range p.Nodes {
		if _, ok := p.Prototypes[n.Prototype]; !ok {
			return fmt.Errorf("%s: node '%s' uses undeclared prototype '%s'", n.DefRange, n.ID, n.Prototype)
		}
		for _, parent := range n.Parents {
			if _, ok := p.byID[parent]; !ok {
				return fmt.Errorf("%s: node '%s' references unknown parent '%s'", n.DefRange, n.ID, parent)
			}
		}
	}
	for _, proto := range p.Prototypes {
		for _, in := range proto.AllowedInputs {
			if _, ok := p.Prototypes[in]; !ok {
				return fmt.Errorf("%s: prototype '%s' allows unknown input prototype '%s'", proto.DefRange, proto.Name, in)
			}
		}
	}
	return nil
}
