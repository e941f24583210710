package print

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/registry"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// OnRunPrint writes every property of the node to the run output.
func OnRunPrint(ctx context.Context, in *registry.Input) error {
	ctxlog.FromContext(ctx).Info("Printing properties", "nodeID", in.NodeID)

	fmt.Fprintf(in.Out, "%s:\n", in.NodeID)
	if len(in.Properties) == 0 {
		fmt.Fprintln(in.Out, "      (no properties)")
		return nil
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(in.Properties))
	for k := range in.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw, err := ctyjson.SimpleJSONValue{Value: in.Properties[k]}.MarshalJSON()
		if err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
		fmt.Fprintf(in.Out, "      %s = %s\n", k, raw)
	}
	return nil
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("print", OnRunPrint)
}
