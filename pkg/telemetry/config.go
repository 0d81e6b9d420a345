package telemetry

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config selects where boxctl sends logs, spans and metrics.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stderr, stdout or a file path. Stdout is reserved for the
	// JSON result, so stderr is the default.
	Output string

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is host:port of an OTLP gRPC collector.
	Endpoint string `validate:"required_if=Exporter otlp"`

	SamplingRate float64 `validate:"gte=0,lte=1"`

	// Insecure skips TLS towards the collector.
	Insecure bool
}

// MetricsConfig configures the per-run textfile export.
type MetricsConfig struct {
	Enabled bool

	// TextfilePath receives the registry after each run, in the
	// node_exporter textfile collector format.
	TextfilePath string `validate:"required_if=Enabled true"`

	Namespace string
	Buckets   []float64
}

// DefaultConfig logs info to stderr and exports nothing.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "boxctl",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Namespace: "boxctl",
			// vagrant subcommands take seconds to many minutes
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	}
}

var configValidator = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
