package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("none is a no-op", func(t *testing.T) {
		p, err := NewProvider(context.Background(), Config{Exporter: ExporterNone})
		require.NoError(t, err)
		assert.False(t, p.Enabled())

		_, span := p.Tracer().Start(context.Background(), "x")
		span.End()
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("stdout exports spans on shutdown", func(t *testing.T) {
		var buf bytes.Buffer
		p, err := NewProvider(context.Background(), Config{Exporter: ExporterStdout, Writer: &buf, ServiceName: "test"})
		require.NoError(t, err)
		assert.True(t, p.Enabled())

		_, span := p.Tracer().Start(context.Background(), "filter.run")
		span.End()
		require.NoError(t, p.Shutdown(context.Background()))

		assert.Contains(t, buf.String(), "filter.run")
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := NewProvider(context.Background(), Config{Exporter: "jaeger"})
		assert.ErrorContains(t, err, "unsupported exporter type: jaeger")
	})
}
