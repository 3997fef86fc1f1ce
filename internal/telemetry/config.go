// Package telemetry provides OpenTelemetry trace export for corpusd.
package telemetry

import (
	"fmt"
	"time"
)

// Config holds telemetry configuration.
//
// Only traces are exported over OTLP; metrics are served by the Prometheus
// /metrics endpoint instead.
type Config struct {
	Enabled         bool          `koanf:"enabled"`
	Endpoint        string        `koanf:"endpoint"`
	Protocol        string        `koanf:"protocol"` // "grpc" or "http/protobuf"
	ServiceName     string        `koanf:"service_name"`
	ServiceVersion  string        `koanf:"service_version"`
	Insecure        bool          `koanf:"insecure"`
	SampleRate      float64       `koanf:"sample_rate"` // 0.0-1.0
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns telemetry defaults.
//
// Telemetry is disabled by default for deployments without an OTEL
// collector; the tracers in the storage layers fall back to no-op spans.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		ServiceName:     "corpusd",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SampleRate:      1.0,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("telemetry service name is required when enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("unknown telemetry protocol %q (expected grpc or http/protobuf)", c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate %v out of range [0, 1]", c.SampleRate)
	}
	return nil
}
