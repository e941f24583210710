// Package fail provides a runner that always fails, optionally after a
// delay.
package fail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/filtergrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the properties of the fail runner.
type Input struct {
	Message string `filter:"message,optional"`
	After   string `filter:"after,optional"`
}

// OnRunFail returns an error carrying the configured message.
func OnRunFail(ctx context.Context, in *registry.Input) error {
	input := Input{Message: "failed on purpose"}
	if err := in.Decode(ctx, &input); err != nil {
		return err
	}

	if input.After != "" {
		d, err := time.ParseDuration(input.After)
		if err != nil {
			return fmt.Errorf("failed to parse after: %w", err)
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.New(input.Message)
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("fail", OnRunFail)
}
