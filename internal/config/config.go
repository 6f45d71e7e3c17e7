package config

import (
	"fmt"
	"github.com/fsnotify/fsnotify"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSourcePort = 8080
	DefaultHost       = "localhost"

	DefaultStatusCheckInterval = 5000 * time.Millisecond
	DefaultCheckStatusTimeout  = 10000 * time.Millisecond
	DefaultStatusURL           = "/~status"
	DefaultBalancerCount       = 1
	DefaultShutdownTimeout     = 10 * time.Second

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Protocol:            "http",
		SourcePort:          DefaultSourcePort,
		Host:                DefaultHost,
		UseSmartBalancing:   true,
		StatusCheckInterval: DefaultStatusCheckInterval,
		CheckStatusTimeout:  DefaultCheckStatusTimeout,
		StatusURL:           DefaultStatusURL,
		BalancerCount:       DefaultBalancerCount,
		ShutdownTimeout:     DefaultShutdownTimeout,
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			PrettyLogs: true,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Security: SecurityConfig{
			TrustProxyHeaders: false,
			TrustedCIDRs: []string{
				"127.0.0.0/8",
				"10.0.0.0/8",
				"172.16.0.0/12",
				"192.168.0.0/16",
			},
			RateLimit: RateLimitConfig{
				Burst: 20,
			},
		},
		Engineering: EngineeringConfig{
			ProfilerAddress: "localhost:6060",
		},
	}
}

// Load loads configuration from file and environment variables. When
// onConfigChange is non-nil it is invoked with the freshly reloaded config
// after a debounced file-change event.
func Load(onConfigChange func(*Config)) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("WAYPOINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal only sees keys viper already knows, so bind every scalar key
	// to its WAYPOINT_* variable explicitly.
	for _, key := range []string{
		"protocol", "protocolOptions.certFile", "protocolOptions.keyFile", "sourcePort", "host", "useSmartBalancing", "dataKey",
		"statusCheckInterval", "checkStatusTimeout", "statusURL", "balancerCount", "appBalancerControllerPath", "shutdownTimeout",
		"logging.level", "logging.theme", "logging.fileOutput", "logging.logDir", "logging.maxSize", "logging.maxBackups",
		"logging.maxAge", "logging.prettyLogs", "security.trustProxyHeaders", "security.rateLimit.globalRequestsPerSecond",
		"security.rateLimit.perIPRequestsPerSecond", "security.rateLimit.burst", "engineering.showNerdStats",
		"engineering.enableProfiler", "engineering.profilerAddress",
	} {
		_ = viper.BindEnv(key)
	}

	// An explicit file (set by --config) takes precedence over the search paths
	if configFile := os.Getenv("WAYPOINT_CONFIG_FILE"); configFile != "" {
		viper.SetConfigFile(configFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // Ignore multiple rapid changes
			}
			lastReload = now

			// looks like on some filesystems this event fires before the
			// write is fully flushed, not sure why
			time.Sleep(DefaultFileWriteDelay)

			reloaded := DefaultConfig()
			if err := viper.Unmarshal(reloaded); err != nil {
				return
			}
			onConfigChange(reloaded)
		})
	}
	return cfg, nil
}

// Validate checks the handful of invariants the balancer depends on at
// construction time.
func (c *Config) Validate() error {
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("config: protocol must be \"http\" or \"https\", got %q", c.Protocol)
	}
	if c.SourcePort <= 0 || c.SourcePort > 65535 {
		return fmt.Errorf("config: sourcePort %d out of range", c.SourcePort)
	}
	if c.BalancerCount < 1 {
		return fmt.Errorf("config: balancerCount must be >= 1, got %d", c.BalancerCount)
	}
	if c.Protocol == "https" && (c.ProtocolOptions.CertFile == "" || c.ProtocolOptions.KeyFile == "") {
		return fmt.Errorf("config: protocolOptions.certFile and keyFile are required for https")
	}
	return nil
}
