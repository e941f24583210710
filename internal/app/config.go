package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Selection modes for the run-set.
const (
	ModeAll      = "all"
	ModeSelected = "selected"
	ModeParents  = "parents"
	ModeChildren = "children"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // hcl file or directory
	StatePath    string // fingerprint file, memory-only when empty

	Select        []string
	Mode          string
	Force         bool
	SkipUnchanged bool
	Timeout       time.Duration

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	TraceExporter string
	OTLPEndpoint  string

	SocketIOURL       string
	SocketIONamespace string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeAll
		if len(cfg.Select) > 0 {
			cfg.Mode = ModeSelected
		}
	}
	switch cfg.Mode {
	case ModeAll:
	case ModeSelected, ModeParents, ModeChildren:
		if len(cfg.Select) == 0 {
			return nil, fmt.Errorf("mode '%s' needs at least one selected filter", cfg.Mode)
		}
	default:
		return nil, fmt.Errorf("invalid mode '%s': must be one of all, selected, parents, children", cfg.Mode)
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck-port %d", cfg.HealthcheckPort)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("invalid timeout %s: must not be negative", cfg.Timeout)
	}

	switch cfg.TraceExporter {
	case "":
		cfg.TraceExporter = "none"
	case "none", "stdout":
	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, errors.New("trace exporter 'otlp' needs an otlp-endpoint")
		}
	default:
		return nil, fmt.Errorf("invalid trace-exporter '%s': must be 'none', 'stdout' or 'otlp'", cfg.TraceExporter)
	}

	return &cfg, nil
}
