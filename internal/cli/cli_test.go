package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/filtergrid/internal/app"
)

func TestParse_Flags(t *testing.T) {
	out := &bytes.Buffer{}
	cfg, shouldExit, err := Parse([]string{
		"--pipeline", "pipelines/",
		"--state", "state.yaml",
		"-s", "gaussian.blur,threshold.mask",
		"--mode", "children",
		"--force",
		"--timeout", "2m",
		"--log-format", "JSON",
		"--log-level", "debug",
		"--healthcheck-port", "8080",
		"--trace-exporter", "stdout",
	}, out)
	require.NoError(t, err)
	require.False(t, shouldExit)

	assert.Equal(t, &app.Config{
		PipelinePath:      "pipelines/",
		StatePath:         "state.yaml",
		Select:            []string{"gaussian.blur", "threshold.mask"},
		Mode:              app.ModeChildren,
		Force:             true,
		SkipUnchanged:     true,
		Timeout:           2 * time.Minute,
		LogFormat:         "json",
		LogLevel:          "debug",
		HealthcheckPort:   8080,
		TraceExporter:     "stdout",
		SocketIONamespace: "/",
	}, cfg)
}

func TestParse_PositionalPath(t *testing.T) {
	cfg, shouldExit, err := Parse([]string{"main.hcl", "--skip-unchanged=false"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, shouldExit)
	assert.Equal(t, "main.hcl", cfg.PipelinePath)
	assert.False(t, cfg.SkipUnchanged)
	assert.Equal(t, app.ModeAll, cfg.Mode)
}

func TestParse_Environment(t *testing.T) {
	t.Setenv("FILTERGRID_PIPELINE", "from-env.hcl")
	t.Setenv("FILTERGRID_LOG_LEVEL", "warn")
	t.Setenv("FILTERGRID_SELECT", "a.b, c.d")

	cfg, _, err := Parse(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "from-env.hcl", cfg.PipelinePath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"a.b", "c.d"}, cfg.Select)
	assert.Equal(t, app.ModeSelected, cfg.Mode)
}

func TestParse_ConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "filtergrid.yaml")
	require.NoError(t, os.WriteFile(file, []byte("pipeline: from-file\nlog-format: json\n"), 0o600))

	cfg, _, err := Parse([]string{"--config", file, "--log-level", "error"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.PipelinePath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestParse_ShouldExit(t *testing.T) {
	for _, args := range [][]string{{"-h"}, {"--version"}, {}} {
		out := &bytes.Buffer{}
		cfg, shouldExit, err := Parse(args, out)
		require.NoError(t, err, "args %v", args)
		assert.True(t, shouldExit, "args %v", args)
		assert.Nil(t, cfg)
		assert.NotEmpty(t, out.String(), "args %v", args)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown flag", args: []string{"--nope"}, want: "unknown flag: --nope"},
		{name: "too many args", args: []string{"a", "b"}, want: "accepts at most 1 arg"},
		{name: "bad level", args: []string{"p", "--log-level", "loud"}, want: "invalid log-level"},
		{name: "bad mode", args: []string{"p", "--mode", "parents"}, want: "needs at least one selected filter"},
		{name: "missing config file", args: []string{"p", "--config", "/does/not/exist.yaml"}, want: "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, IsUsageError(err))
		})
	}
}
