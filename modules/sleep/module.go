// Package sleep provides a runner that waits for a configured duration. It
// stands in for long computations in pipelines and tests.
package sleep

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the properties of the sleep runner.
type Input struct {
	Duration string `filter:"duration"`
}

// OnRunSleep blocks for the configured duration or until the run is
// cancelled.
func OnRunSleep(ctx context.Context, in *registry.Input) error {
	var input Input
	if err := in.Decode(ctx, &input); err != nil {
		return err
	}
	d, err := time.ParseDuration(input.Duration)
	if err != nil {
		return fmt.Errorf("failed to parse duration: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("Sleeping", "duration", d)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register registers the handler with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("sleep", OnRunSleep)
}
