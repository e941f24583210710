package reporter

import (
	"context"
	"log/slog"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/operation"
	"github.com/vk/filtergrid/internal/scheduler"
)

// LogSink writes every event to the context logger.
type LogSink struct{}

// NodeChanged implements Sink.
func (LogSink) NodeChanged(ctx context.Context, ev scheduler.NodeEvent) {
	logger := ctxlog.FromContext(ctx)
	attrs := []any{"nodeID", ev.NodeID, "state", ev.State.String()}
	switch {
	case ev.Err != nil:
		logger.Error("Filter state changed.", append(attrs, "error", ev.Err)...)
	case ev.State == scheduler.Cancelled:
		logger.Warn("Filter state changed.", attrs...)
	default:
		logger.Info("Filter state changed.", attrs...)
	}
}

// OperationChanged implements Sink.
func (LogSink) OperationChanged(ctx context.Context, ev operation.Event) {
	level := slog.LevelDebug
	if ev.Err != nil {
		level = slog.LevelWarn
	}
	ctxlog.FromContext(ctx).Log(ctx, level, "Run progress.",
		"operationID", ev.OperationID,
		"progress", ev.Progress,
		"error", ev.Err,
	)
}
