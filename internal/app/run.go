package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/filterexec"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/nodeid"
	"github.com/vk/filtergrid/internal/reporter"
	"github.com/vk/filtergrid/internal/scheduler"
	"github.com/vk/filtergrid/internal/statestore"
	"github.com/vk/filtergrid/internal/tracing"
)

// Run loads the pipeline, runs the selected filters and persists their
// fingerprints. It returns scheduler.ErrFiltersFailed (wrapped) when any
// filter failed or was cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = a.context(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(ctx, a.config.HealthcheckPort)
		defer a.closeHealthcheckServer(ctx)
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	p, err := a.loader.Load(ctx, a.config.PipelinePath)
	if err != nil {
		return fmt.Errorf("failed to load pipeline: %w", err)
	}
	if err := a.registry.Validate(p.Runners()); err != nil {
		return err
	}
	logger.Debug("Registry validation passed.")

	store, err := statestore.Open(a.config.StatePath)
	if err != nil {
		return err
	}

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:     a.config.TraceExporter,
		OTLPEndpoint: a.config.OTLPEndpoint,
		Writer:       a.outW,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed.", "error", err)
		}
	}()

	factory := filterexec.NewFactory(p, a.registry, store,
		filterexec.WithOutput(a.outW),
		filterexec.WithTracer(provider.Tracer()),
	)
	graph, err := p.Graph(factory.Handle)
	if err != nil {
		return fmt.Errorf("failed to build node graph: %w", err)
	}

	ids, err := a.selectFilters(graph)
	if err != nil {
		return err
	}
	s, err := scheduler.Build(ctx, graph, scheduler.RunSet{Filters: ids, SkipUnchanged: a.config.SkipUnchanged})
	if err != nil {
		return fmt.Errorf("failed to build schedule: %w", err)
	}

	tracker := reporter.NewTracker(s.Operation().ID())
	a.tracker.Store(tracker)
	sinks := []reporter.Sink{reporter.LogSink{}, tracker}
	if a.config.SocketIOURL != "" {
		sink, err := reporter.DialSocketIO(ctx, reporter.SocketIOConfig{
			URL:       a.config.SocketIOURL,
			Namespace: a.config.SocketIONamespace,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}
	rep := reporter.Attach(ctx, s, sinks...)

	runErr := a.execute(ctx, s)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rep.Wait(drainCtx); err != nil {
		logger.Warn("Not every run event was reported.", "error", err)
	}
	tracker.MarkFinished(runErr)

	if err := store.Save(); err != nil {
		logger.Error("Failed to save filter state.", "path", store.Path(), "error", err)
		if runErr == nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	logger.Debug("App.Run method finished.")
	return nil
}

// execute runs s and waits for it to finish, even when ctx is cancelled
// part way.
func (a *App) execute(ctx context.Context, s *scheduler.Scheduler) error {
	force := a.config.Force || !a.config.SkipUnchanged
	if err := s.Execute(ctx, force); err != nil {
		return err
	}
	err := s.Operation().Wait(context.WithoutCancel(ctx))
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", err, context.Cause(ctx))
	}
	return err
}

// selectFilters resolves the configured selection against the graph.
func (a *App) selectFilters(g *nodegraph.Graph) ([]nodegraph.ID, error) {
	if a.config.Mode == ModeAll || a.config.Mode == "" {
		return scheduler.SelectAll(g), nil
	}

	ids := make([]nodegraph.ID, 0, len(a.config.Select))
	for _, raw := range a.config.Select {
		ref, err := nodeid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid selection: %w", err)
		}
		id := nodegraph.ID(ref.String())
		if !g.Has(id) {
			return nil, fmt.Errorf("selected node '%s' does not exist", id)
		}
		if g.Kind(id) != nodegraph.KindFilter {
			return nil, fmt.Errorf("selected node '%s' is not a filter", id)
		}
		ids = append(ids, id)
	}

	switch a.config.Mode {
	case ModeParents:
		return scheduler.SelectWithAncestors(g, ids), nil
	case ModeChildren:
		return scheduler.SelectWithDescendants(g, ids), nil
	default:
		return scheduler.SelectOnly(g, ids), nil
	}
}
