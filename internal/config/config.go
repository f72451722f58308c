// Package config provides gateway configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Encoding modes for translated routes.
const (
	// EncodingRaw relays the original request unmodified.
	EncodingRaw = "raw"

	// EncodingJSON re-serializes the payload as a JSON request body.
	EncodingJSON = "json"

	// EncodingMultipart translates the JSON payload to multipart form-data.
	EncodingMultipart = "multipart"
)

// Default environment variable names for the route manifest source.
const (
	DefaultManifestInlineEnv = "GATEWAY_ROUTE_MANIFEST_JSON"
	DefaultManifestPathEnv   = "GATEWAY_ROUTE_MANIFEST"
	DefaultManifestSkipEnv   = "GATEWAY_SKIP_ROUTE_REGISTRATION"
)

// GatewayConfig is the root configuration structure.
type GatewayConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Vendor        VendorConfig        `yaml:"vendor"`
	Manifest      ManifestConfig      `yaml:"manifest"`
	Routes        []TranslatedRoute   `yaml:"routes"`
	Silo          SiloConfig          `yaml:"silo"`
	Proxy         ProxyConfig         `yaml:"proxy"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// VendorConfig configures the supervised vendor process.
type VendorConfig struct {
	// Label names the process; used for container naming and logs.
	Label string `yaml:"label"`

	// Entrypoint is the native launch script. When it does not exist on
	// the local filesystem the supervisor falls back to running Image.
	Entrypoint string `yaml:"entrypoint"`

	// Image is the container image for the fallback launch mode.
	Image string `yaml:"image"`

	// Host where the vendor services listen. Defaults to 127.0.0.1.
	Host string `yaml:"host"`

	// ServicePorts are the primary upstream ports gated by readiness.
	ServicePorts []int `yaml:"servicePorts"`

	// AuxiliaryPorts are additional ports mapped into the container and
	// probed for readiness, e.g. a co-hosted transcription service.
	AuxiliaryPorts []int `yaml:"auxiliaryPorts"`

	Env EnvForwardConfig `yaml:"env"`

	// GPUOverrideEnv names an env var that, when set, forces its value
	// as the --gpus flag instead of local GPU detection.
	GPUOverrideEnv string `yaml:"gpuOverrideEnv"`

	// StartupTimeout bounds the boot-time wait for service ports.
	StartupTimeout Duration `yaml:"startupTimeout"`

	// SoftFail keeps the gateway serving (unhealthy) when the startup
	// wait times out instead of treating it as fatal.
	SoftFail bool `yaml:"softFail"`
}

// EnvForwardConfig selects environment variables forwarded into a
// containerized vendor process. Unset variables are omitted.
type EnvForwardConfig struct {
	Keys     []string `yaml:"keys"`
	Prefixes []string `yaml:"prefixes"`
}

// ManifestConfig configures the route manifest source.
type ManifestConfig struct {
	// Path to the manifest JSON file.
	Path string `yaml:"path"`

	// InlineEnv, PathEnv and SkipEnv override the default env var names.
	InlineEnv string `yaml:"inlineEnv"`
	PathEnv   string `yaml:"pathEnv"`
	SkipEnv   string `yaml:"skipEnv"`

	// StaticRoutes are merged into the discovered manifest. On conflict
	// the discovered entry wins.
	StaticRoutes []RouteEntry `yaml:"staticRoutes"`

	// Watch enables an fsnotify watcher that logs when the manifest
	// file changes on disk. Routes are never hot-swapped.
	Watch bool `yaml:"watch"`
}

// SiloConfig configures per-caller field scoping.
type SiloConfig struct {
	// Fields are payload field names rewritten with the caller prefix.
	Fields []string `yaml:"fields"`

	// QueryParam and Header carry the caller identifier.
	QueryParam string `yaml:"queryParam"`
	Header     string `yaml:"header"`
}

// ProxyConfig configures the upstream forwarder.
type ProxyConfig struct {
	// RequestTimeout bounds a single forwarded call. Synthesis-style
	// calls can run for minutes.
	RequestTimeout Duration `yaml:"requestTimeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CircuitBreakerConfig configures the upstream circuit breaker.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Threshold int      `yaml:"threshold"`
	Timeout   Duration `yaml:"timeout"`
}

// ObservabilityConfig groups logging, metrics and tracing settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with default values.
func (c *GatewayConfig) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(30 * time.Second)
	}
	if c.Vendor.Label == "" {
		c.Vendor.Label = "vendor"
	}
	if c.Vendor.Host == "" {
		c.Vendor.Host = "127.0.0.1"
	}
	if c.Vendor.StartupTimeout == 0 {
		c.Vendor.StartupTimeout = Duration(10 * time.Minute)
	}
	if c.Manifest.InlineEnv == "" {
		c.Manifest.InlineEnv = DefaultManifestInlineEnv
	}
	if c.Manifest.PathEnv == "" {
		c.Manifest.PathEnv = DefaultManifestPathEnv
	}
	if c.Manifest.SkipEnv == "" {
		c.Manifest.SkipEnv = DefaultManifestSkipEnv
	}
	if len(c.Silo.Fields) == 0 {
		c.Silo.Fields = []string{"speaker_name", "speaker_wav"}
	}
	if c.Silo.QueryParam == "" {
		c.Silo.QueryParam = "silo_id"
	}
	if c.Silo.Header == "" {
		c.Silo.Header = "X-Silo-ID"
	}
	if c.Proxy.RequestTimeout == 0 {
		c.Proxy.RequestTimeout = Duration(5 * time.Minute)
	}
	if c.Proxy.CircuitBreaker.Threshold == 0 {
		c.Proxy.CircuitBreaker.Threshold = 5
	}
	if c.Proxy.CircuitBreaker.Timeout == 0 {
		c.Proxy.CircuitBreaker.Timeout = Duration(30 * time.Second)
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "json"
	}
	if c.Observability.Metrics.Namespace == "" {
		c.Observability.Metrics.Namespace = "gateway"
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "vendorgw"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *GatewayConfig) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if len(c.Vendor.ServicePorts) == 0 {
		return fmt.Errorf("vendor.servicePorts must list at least one port")
	}
	for _, p := range append(append([]int{}, c.Vendor.ServicePorts...), c.Vendor.AuxiliaryPorts...) {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid vendor port %d", p)
		}
	}
	if c.Vendor.Entrypoint == "" && c.Vendor.Image == "" {
		return fmt.Errorf("vendor requires an entrypoint or a container image")
	}
	for i := range c.Routes {
		if err := c.Routes[i].Validate(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}
	for i := range c.Manifest.StaticRoutes {
		if err := c.Manifest.StaticRoutes[i].Validate(); err != nil {
			return fmt.Errorf("manifest.staticRoutes[%d]: %w", i, err)
		}
	}
	return nil
}

// DefaultServicePort returns the first service port, used as the fallback
// target for manifest entries that omit a port.
func (c *GatewayConfig) DefaultServicePort() int {
	if len(c.Vendor.ServicePorts) > 0 {
		return c.Vendor.ServicePorts[0]
	}
	return 0
}

// AllPorts returns service and auxiliary ports in declaration order.
func (c *GatewayConfig) AllPorts() []int {
	ports := make([]int, 0, len(c.Vendor.ServicePorts)+len(c.Vendor.AuxiliaryPorts))
	ports = append(ports, c.Vendor.ServicePorts...)
	ports = append(ports, c.Vendor.AuxiliaryPorts...)
	return ports
}
