package telemetry

// OTLP carries the OTLP/HTTP trace exporter endpoint (§6-EXPANSION
// observability). Grounded on the teacher's pkg/telemetry/setup.go
// NewOTLPExporter, which already validates this shape.
type OTLP struct {
	// Host is the collector's host:port, with no scheme and no trailing
	// slash (NewOTLPExporter rejects both).
	Host string `yaml:"host"`
	// Secure selects HTTPS instead of plaintext.
	Secure bool `yaml:"secure"`
}

// Config configures this node's tracer provider. The teacher's Config also
// supports a Jaeger collector URL; this module's dependency set carries only
// the OTLP exporter (see DESIGN.md), so that branch is dropped rather than
// carried unused.
type Config struct {
	// OTLP is the OTLP/HTTP collector this node exports spans to.
	OTLP OTLP `yaml:"otlp"`
	// Package names the traced service for the resource attributes.
	Package string `yaml:"package"`
	// ID identifies this node's service instance (conventionally the
	// cluster node id).
	ID string `yaml:"id"`
}
