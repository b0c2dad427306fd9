package strata

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Database at Open.
type Option func(*dbConfig)

// dbConfig collects Open-time settings before the Database is built.
type dbConfig struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	err    error
}

// WithConfig sets the database configuration. Options apply in order, so a
// later option overrides an earlier one.
func WithConfig(cfg Config) Option {
	return func(c *dbConfig) {
		c.cfg = cfg
	}
}

// WithConfigFile loads the database configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(c *dbConfig) {
		cfg, err := LoadConfig(path)
		if err != nil {
			c.err = err
			return
		}
		c.cfg = cfg
	}
}

// WithJournalPath attaches a durable commit journal without a config file.
func WithJournalPath(path string) Option {
	return func(c *dbConfig) {
		c.cfg.JournalPath = path
	}
}

// WithLogger sets a custom logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *dbConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for query spans.
// If not provided, the global tracer provider is used.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *dbConfig) {
		c.tracer = tracer
	}
}
