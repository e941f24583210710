// Package env_vars provides a runner that checks the process environment
// before downstream filters run.
package env_vars

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vk/filtergrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the properties of the env_vars runner.
type Input struct {
	Required []string `filter:"required,optional"`
	Print    bool     `filter:"print,optional"`
}

// OnRunEnvVars fails when a required variable is unset or empty. With print
// set it writes the names of the required variables that are present.
func OnRunEnvVars(ctx context.Context, in *registry.Input) error {
	var input Input
	if err := in.Decode(ctx, &input); err != nil {
		return err
	}

	var missing, present []string
	for _, name := range input.Required {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			present = append(present, name)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	if input.Print && in.Out != nil {
		sort.Strings(present)
		for _, name := range present {
			fmt.Fprintf(in.Out, "      %s is set\n", name)
		}
	}
	return nil
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("env_vars", OnRunEnvVars)
}
