package filterexec

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/pipeline"
	"github.com/vk/filtergrid/internal/registry"
	"github.com/vk/filtergrid/internal/statestore"
)

const testPipeline = `
prototype "volume" {
  kind = "data"
}

prototype "smooth" {
  kind   = "filter"
  runner = "echo"
}

prototype "broken" {
  kind   = "filter"
  runner = "boom"
}

node "volume" "ct" {
  properties {
    path = "scan.raw"
  }
}

node "smooth" "blur" {
  parents = ["volume.ct"]
  properties {
    sigma = 1.5
  }
}

node "smooth" "again" {
  parents = ["smooth.blur"]
}

node "broken" "bad" {
  parents = ["volume.ct"]
}
`

func parse(t *testing.T, src string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.NewLoader().Parse(map[string][]byte{"main.hcl": []byte(src)})
	require.NoError(t, err)
	return p
}

func newRegistry() *registry.Registry {
	reg := registry.New()
	reg.RegisterRunner("echo", func(ctx context.Context, in *registry.Input) error {
		_, err := in.Out.Write([]byte(in.NodeID + "\n"))
		return err
	})
	reg.RegisterRunner("boom", func(ctx context.Context, in *registry.Input) error {
		return errors.New("exploded")
	})
	return reg
}

func node(t *testing.T, p *pipeline.Pipeline, id string) *pipeline.Node {
	t.Helper()
	n, ok := p.Node(nodegraph.ID(id))
	require.True(t, ok, "node %s", id)
	return n
}

func runToEnd(t *testing.T, f *Filter) error {
	t.Helper()
	done := make(chan error, 1)
	task := f.Run(context.Background())
	task.OnComplete(func(err error) { done <- err })
	task.OnDestroyedWithoutCompleting(func() { done <- errors.New("destroyed") })
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("filter did not finish")
		return nil
	}
}

func TestFilter_RunRecordsFingerprint(t *testing.T) {
	p := parse(t, testPipeline)
	store := statestore.NewMemory()
	out := &bytes.Buffer{}
	factory := NewFactory(p, newRegistry(), store, WithOutput(out))

	f, err := factory.New(node(t, p, "smooth.blur"))
	require.NoError(t, err)
	require.True(t, f.NeedsRecalculation(), "never ran")

	require.NoError(t, runToEnd(t, f))
	assert.Equal(t, "smooth.blur\n", out.String())

	rec, ok := store.Get("smooth.blur")
	require.True(t, ok)
	assert.Equal(t, f.Fingerprint(), rec.Fingerprint)
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.False(t, f.NeedsRecalculation())
}

func TestFilter_FailureForgetsRecord(t *testing.T) {
	p := parse(t, testPipeline)
	store := statestore.NewMemory()
	store.Put("broken.bad", statestore.Record{Fingerprint: "stale"})
	factory := NewFactory(p, newRegistry(), store)

	f, err := factory.New(node(t, p, "broken.bad"))
	require.NoError(t, err)

	err = runToEnd(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter 'broken.bad': exploded")
	_, ok := store.Get("broken.bad")
	assert.False(t, ok)
}

func TestFilter_FingerprintTracksInputs(t *testing.T) {
	base := parse(t, testPipeline)
	factory := NewFactory(base, newRegistry(), statestore.NewMemory())
	blur, err := factory.New(node(t, base, "smooth.blur"))
	require.NoError(t, err)
	again, err := factory.New(node(t, base, "smooth.again"))
	require.NoError(t, err)

	t.Run("stable", func(t *testing.T) {
		p := parse(t, testPipeline)
		f, err := NewFactory(p, newRegistry(), statestore.NewMemory()).New(node(t, p, "smooth.blur"))
		require.NoError(t, err)
		assert.Equal(t, blur.Fingerprint(), f.Fingerprint())
	})

	t.Run("data input changed", func(t *testing.T) {
		src := bytes.Replace([]byte(testPipeline), []byte(`"scan.raw"`), []byte(`"other.raw"`), 1)
		p := parse(t, string(src))
		factory := NewFactory(p, newRegistry(), statestore.NewMemory())

		f, err := factory.New(node(t, p, "smooth.blur"))
		require.NoError(t, err)
		assert.NotEqual(t, blur.Fingerprint(), f.Fingerprint())

		// Downstream filters only see the change through the scheduler.
		g, err := factory.New(node(t, p, "smooth.again"))
		require.NoError(t, err)
		assert.Equal(t, again.Fingerprint(), g.Fingerprint())
	})

	t.Run("own property changed", func(t *testing.T) {
		src := bytes.Replace([]byte(testPipeline), []byte("sigma = 1.5"), []byte("sigma = 2"), 1)
		p := parse(t, string(src))
		f, err := NewFactory(p, newRegistry(), statestore.NewMemory()).New(node(t, p, "smooth.blur"))
		require.NoError(t, err)
		assert.NotEqual(t, blur.Fingerprint(), f.Fingerprint())
	})
}

func TestFactory_Errors(t *testing.T) {
	p := parse(t, testPipeline)

	_, err := NewFactory(p, newRegistry(), statestore.NewMemory()).New(node(t, p, "volume.ct"))
	assert.ErrorContains(t, err, "is not a filter")

	_, err = NewFactory(p, registry.New(), statestore.NewMemory()).New(node(t, p, "smooth.blur"))
	assert.ErrorContains(t, err, "no handler registered for runner 'echo'")
}

func TestFactory_BuildsGraph(t *testing.T) {
	p := parse(t, testPipeline)
	factory := NewFactory(p, newRegistry(), statestore.NewMemory())

	g, err := p.Graph(factory.Handle)
	require.NoError(t, err)
	for _, id := range []string{"smooth.blur", "smooth.again", "broken.bad"} {
		assert.NotNil(t, g.Filter(nodegraph.ID(id)), id)
	}
}
