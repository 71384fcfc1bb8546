package telemetry

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name of the service
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the version of the service
	ServiceVersion string `yaml:"-"`

	// Environment is the deployment environment (dev, staging, production)
	Environment string `yaml:"environment"`

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	// If empty, spans are recorded but not exported
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of traces to sample (0.0 to 1.0)
	SampleRate float64 `yaml:"sample_rate"`
}

// DefaultConfig returns a sensible default configuration.
// Tracing is disabled by default for a CLI tool
func DefaultConfig() Config {
	return Config{
		ServiceName:    "devflow",
		ServiceVersion: "dev",
		Environment:    "development",
		Enabled:        false,
		SampleRate:     1.0,
	}
}
