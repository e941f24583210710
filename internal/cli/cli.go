package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vk/filtergrid/internal/app"
)

// EnvPrefix prefixes the environment variable of every flag, with dashes
// turned into underscores: FILTERGRID_LOG_LEVEL for --log-level.
const EnvPrefix = "FILTERGRID"

// Version is reported by --version.
var Version = "dev"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) *ExitError {
	return &ExitError{Code: 2, Message: err.Error()}
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var (
		positional string
		ran        bool
	)
	cmd := &cobra.Command{
		Use:   "filtergrid [flags] [PIPELINE_PATH]",
		Short: "Re-runs the filters of a pipeline that need it, in dependency order.",
		Long: `filtergrid loads a pipeline of data and filter nodes from .hcl files and
re-runs the selected filters in dependency order. Filters whose inputs did
not change since their last successful run are skipped.

Every flag can also be set through an environment variable, for example
FILTERGRID_LOG_LEVEL=debug, or through a YAML file given with --config.`,
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ran = true
			if len(args) > 0 {
				positional = args[0]
			}
			return nil
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)

	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML file with flag values.")
	flags.StringP("pipeline", "p", "", "Path to the pipeline file or directory.")
	flags.String("state", "", "Path to the filter state file. Empty keeps state in memory only.")
	flags.StringSliceP("select", "s", nil, "Filters to run, as prototype.name. Repeatable or comma separated.")
	flags.String("mode", "", "How the selection is expanded: 'all', 'selected', 'parents' or 'children'.")
	flags.Bool("force", false, "Rerun every scheduled filter even when it is up to date.")
	flags.Bool("skip-unchanged", true, "Skip filters whose inputs did not change.")
	flags.Duration("timeout", 0, "Cancel the run after this duration. 0 disables the timeout.")
	flags.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flags.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flags.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	flags.String("trace-exporter", "none", "Trace exporter. Options: 'none', 'stdout', 'otlp'.")
	flags.String("otlp-endpoint", "", "Collector address for the otlp trace exporter.")
	flags.String("socketio-url", "", "socket.io server that receives run progress.")
	flags.String("socketio-namespace", "/", "socket.io namespace for run progress.")

	if err := v.BindPFlags(flags); err != nil {
		return nil, false, usageError(err)
	}

	if err := cmd.Execute(); err != nil {
		return nil, false, usageError(err)
	}
	if !ran {
		// --help or --version
		return nil, true, nil
	}
	slog.Debug("Arguments parsed successfully.")

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, usageError(fmt.Errorf("failed to read config file: %w", err))
		}
	}

	path := v.GetString("pipeline")
	if path == "" {
		path = positional
	}
	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		_ = cmd.Usage()
		return nil, true, nil
	}

	config, err := app.NewConfig(app.Config{
		PipelinePath:      path,
		StatePath:         v.GetString("state"),
		Select:            splitList(v.GetStringSlice("select")),
		Mode:              v.GetString("mode"),
		Force:             v.GetBool("force"),
		SkipUnchanged:     v.GetBool("skip-unchanged"),
		Timeout:           v.GetDuration("timeout"),
		LogFormat:         v.GetString("log-format"),
		LogLevel:          v.GetString("log-level"),
		HealthcheckPort:   v.GetInt("healthcheck-port"),
		TraceExporter:     v.GetString("trace-exporter"),
		OTLPEndpoint:      v.GetString("otlp-endpoint"),
		SocketIOURL:       v.GetString("socketio-url"),
		SocketIONamespace: v.GetString("socketio-namespace"),
	})
	if err != nil {
		return nil, false, usageError(err)
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// splitList accepts both repeated values and comma separated ones, as
// environment variables only carry a single string.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// IsUsageError reports whether err came from bad arguments.
func IsUsageError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Code == 2
}
