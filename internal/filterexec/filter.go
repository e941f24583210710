// Package filterexec runs pipeline filter nodes through their registered
// handlers.
//
// A filter is up to date when the fingerprint of its inputs matches the one
// recorded after its last successful run. The fingerprint covers the
// prototype, the runner, the node's properties and the properties of the
// data nodes that feed it. Upstream filters are not part of it: a rerun
// upstream is propagated by the scheduler.
package filterexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/filter"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/pipeline"
	"github.com/vk/filtergrid/internal/registry"
	"github.com/vk/filtergrid/internal/statestore"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vk/filtergrid/internal/filterexec"

// Factory creates Filters for the nodes of one pipeline.
type Factory struct {
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	store    *statestore.Store
	out      io.Writer
	tracer   trace.Tracer
}

// Option customises a Factory.
type Option func(*Factory)

// WithOutput sets where handlers write user-facing output.
func WithOutput(w io.Writer) Option {
	return func(f *Factory) { f.out = w }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(f *Factory) { f.tracer = t }
}

// NewFactory creates a factory.
func NewFactory(p *pipeline.Pipeline, reg *registry.Registry, store *statestore.Store, opts ...Option) *Factory {
	f := &Factory{
		pipeline: p,
		registry: reg,
		store:    store,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tracer == nil {
		f.tracer = otel.Tracer(tracerName)
	}
	return f
}

// Handle implements pipeline.HandleFactory.
func (f *Factory) Handle(n *pipeline.Node) (filter.Handle, error) {
	return f.New(n)
}

// New creates the Filter for a filter node.
func (f *Factory) New(n *pipeline.Node) (*Filter, error) {
	proto := f.pipeline.PrototypeOf(n)
	if proto == nil || !proto.IsFilter() {
		return nil, fmt.Errorf("node '%s' is not a filter", n.ID)
	}
	handler, ok := f.registry.Runner(proto.Runner)
	if !ok {
		return nil, fmt.Errorf("no handler registered for runner '%s'", proto.Runner)
	}
	fp, err := fingerprint(f.pipeline, n, proto)
	if err != nil {
		return nil, fmt.Errorf("fingerprint node '%s': %w", n.ID, err)
	}
	return &Filter{
		node:        n,
		prototype:   proto,
		handler:     handler,
		store:       f.store,
		out:         f.out,
		tracer:      f.tracer,
		fingerprint: fp,
	}, nil
}

// Filter is the filter.Handle of one pipeline node.
type Filter struct {
	node        *pipeline.Node
	prototype   *pipeline.Prototype
	handler     registry.Handler
	store       *statestore.Store
	out         io.Writer
	tracer      trace.Tracer
	fingerprint string
}

var _ filter.Handle = (*Filter)(nil)

// Fingerprint returns the input fingerprint of the filter.
func (f *Filter) Fingerprint() string { return f.fingerprint }

// NeedsRecalculation implements filter.Handle.
func (f *Filter) NeedsRecalculation() bool {
	rec, ok := f.store.Get(string(f.node.ID))
	return !ok || rec.Fingerprint != f.fingerprint
}

// Run implements filter.Handle. The handler runs on its own goroutine. A
// successful run records the fingerprint; a failed run forgets it so the
// filter is recalculated next time.
func (f *Filter) Run(ctx context.Context) filter.AsyncTask {
	id := string(f.node.ID)
	return filter.Go(ctx, func(ctx context.Context) error {
		ctx, span := f.tracer.Start(ctx, "filter.run", trace.WithAttributes(
			attribute.String("filter.id", id),
			attribute.String("filter.prototype", f.prototype.Name),
			attribute.String("filter.runner", f.prototype.Runner),
		))
		defer span.End()

		ctx = ctxlog.With(ctx, "nodeID", id, "runner", f.prototype.Runner)
		logger := ctxlog.FromContext(ctx)
		logger.Debug("Filter handler starting.")

		start := time.Now()
		err := f.handler(ctx, &registry.Input{
			NodeID:     id,
			Prototype:  f.prototype.Name,
			Properties: f.node.Properties,
			Out:        f.out,
		})
		elapsed := time.Since(start)

		if err != nil {
			f.store.Delete(id)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("filter '%s': %w", id, err)
		}

		f.store.Put(id, statestore.Record{
			Fingerprint: f.fingerprint,
			UpdatedAt:   time.Now().UTC(),
			Duration:    elapsed,
		})
		span.SetStatus(codes.Ok, "")
		logger.Debug("Filter handler finished.", "duration", elapsed)
		return nil
	})
}

// fingerprint hashes everything a filter's output depends on apart from
// upstream filters.
func fingerprint(p *pipeline.Pipeline, n *pipeline.Node, proto *pipeline.Prototype) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "prototype=%s\nrunner=%s\n", proto.Name, proto.Runner)
	if err := writeProperties(h, n.Properties); err != nil {
		return "", err
	}

	for _, data := range dataInputs(p, n) {
		fmt.Fprintf(h, "input=%s\n", data.ID)
		if err := writeProperties(h, data.Properties); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeProperties(w io.Writer, props map[string]cty.Value) error {
	obj := cty.EmptyObjectVal
	if len(props) > 0 {
		obj = cty.ObjectVal(props)
	}
	data, err := ctyjson.Marshal(obj, obj.Type())
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// dataInputs returns the non-filter ancestors reachable from n without
// passing through another filter, sorted by id.
func dataInputs(p *pipeline.Pipeline, n *pipeline.Node) []*pipeline.Node {
	seen := make(map[nodegraph.ID]bool)
	var out []*pipeline.Node
	stack := append([]nodegraph.ID(nil), n.Parents...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		parent, ok := p.Node(id)
		if !ok {
			continue
		}
		if proto := p.PrototypeOf(parent); proto == nil || proto.IsFilter() {
			continue
		}
		out = append(out, parent)
		stack = append(stack, parent.Parents...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
