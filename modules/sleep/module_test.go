package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/filtergrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func input(d string) *registry.Input {
	return &registry.Input{
		NodeID:     "gaussian.blur",
		Properties: map[string]cty.Value{"duration": cty.StringVal(d)},
	}
}

func TestOnRunSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, OnRunSleep(context.Background(), input("20ms")))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestOnRunSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := OnRunSleep(ctx, input("1h"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOnRunSleep_BadInput(t *testing.T) {
	err := OnRunSleep(context.Background(), input("soon"))
	require.ErrorContains(t, err, "failed to parse duration")

	err = OnRunSleep(context.Background(), &registry.Input{NodeID: "gaussian.blur"})
	require.ErrorContains(t, err, `missing required property "duration"`)
}
