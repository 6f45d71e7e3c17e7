package config

import "time"

// Config holds all configuration for the balancer process.
type Config struct {
	// Protocol selects the listener transport: "http" or "https".
	Protocol string `yaml:"protocol"`
	// ProtocolOptions carries TLS material when Protocol == "https".
	ProtocolOptions ProtocolOptions `yaml:"protocolOptions"`
	// SourcePort is the TCP port the listener binds.
	SourcePort int `yaml:"sourcePort"`
	// Host is advertised/reported metadata only; targets always resolve to loopback.
	Host string `yaml:"host"`
	// Workers is the ordered list of backend ports the registry is built from.
	Workers []WorkerConfig `yaml:"workers"`
	// UseSmartBalancing selects session/quota mode over deterministic IP hashing.
	UseSmartBalancing bool `yaml:"useSmartBalancing"`
	// DataKey is an opaque token included in every status-probe POST body.
	DataKey string `yaml:"dataKey"`
	// StatusCheckInterval is the poll period.
	StatusCheckInterval time.Duration `yaml:"statusCheckInterval"`
	// CheckStatusTimeout is the per-poll socket-idle timeout.
	CheckStatusTimeout time.Duration `yaml:"checkStatusTimeout"`
	// StatusURL is the path of the status endpoint on each worker.
	StatusURL string `yaml:"statusURL"`
	// BalancerCount is the divisor applied when computing quotas.
	BalancerCount int `yaml:"balancerCount"`
	// AppBalancerControllerPath is read from configuration only; nothing in
	// this process loads or invokes a module from this path.
	AppBalancerControllerPath string `yaml:"appBalancerControllerPath"`
	// ShutdownTimeout bounds how long in-flight proxied connections are
	// allowed to drain after a stop signal.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// ProtocolOptions carries the TLS material for an HTTPS listener.
type ProtocolOptions struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// WorkerConfig names a single backend worker by its local port.
type WorkerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig controls the styled slog output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	FileOutput bool   `yaml:"fileOutput"`
	LogDir     string `yaml:"logDir"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	PrettyLogs bool   `yaml:"prettyLogs"`
}

// SecurityConfig groups the supplemented, ambient protection concerns that
// sit alongside the core balancing logic.
type SecurityConfig struct {
	TrustProxyHeaders bool            `yaml:"trustProxyHeaders"`
	TrustedCIDRs      []string        `yaml:"trustedCIDRs"`
	RateLimit         RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig configures the optional token-bucket request limiter.
// A zero PerIPRequestsPerSecond disables per-IP limiting and a zero
// GlobalRequestsPerSecond disables the global limit; with both zero no
// limiter is installed.
type RateLimitConfig struct {
	GlobalRequestsPerSecond float64 `yaml:"globalRequestsPerSecond"`
	PerIPRequestsPerSecond  float64 `yaml:"perIPRequestsPerSecond"`
	Burst                   int     `yaml:"burst"`
}

// EngineeringConfig controls developer/debugging facilities.
type EngineeringConfig struct {
	ShowNerdStats   bool   `yaml:"showNerdStats"`
	EnableProfiler  bool   `yaml:"enableProfiler"`
	ProfilerAddress string `yaml:"profilerAddress"`
}
