package causez

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of tracer configuration.
type Config struct {
	Reporting ReportingConfig `yaml:"reporting"`
	Transport TransportConfig `yaml:"transport"`
	Queue     QueueConfig     `yaml:"queue"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ReportingConfig selects which agents report events.
type ReportingConfig struct {
	EnabledByDefault bool     `yaml:"enabledByDefault"`
	Enabled          []string `yaml:"enabled"`
	Disabled         []string `yaml:"disabled"`
}

// Policy converts the reporting section into a Policy.
func (r ReportingConfig) Policy() Policy {
	return Policy{
		EnabledByDefault: r.EnabledByDefault,
		Enabled:          append([]string(nil), r.Enabled...),
		Disabled:         append([]string(nil), r.Disabled...),
	}
}

// TransportConfig selects where events are shipped.
type TransportConfig struct {
	// Kind is one of "kafka", "redis", "memory" or "none".
	Kind    string   `yaml:"kind"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	Channel       string `yaml:"channel"`
}

// QueueConfig tunes the reporter queue and retries.
type QueueConfig struct {
	// Limit bounds the queue; 0 means unbounded.
	Limit             int           `yaml:"limit"`
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay"`
}

// RetryPolicy converts the queue section into a RetryPolicy.
func (q QueueConfig) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  q.RetryAttempts,
		InitialDelay: q.RetryInitialDelay,
		MaxDelay:     q.RetryMaxDelay,
	}
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Namespace string `yaml:"namespace"`
}

// LoadConfig reads a YAML config file (if provided) and applies environment
// variable overrides. Missing values keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Reporting: ReportingConfig{
			EnabledByDefault: true,
		},
		Transport: TransportConfig{
			Kind:      "none",
			Brokers:   []string{"localhost:9092"},
			Topic:     "causez-events",
			RedisAddr: "localhost:6379",
			Channel:   "causez-events",
		},
		Queue: QueueConfig{
			RetryAttempts:     1,
			RetryInitialDelay: 50 * time.Millisecond,
			RetryMaxDelay:     2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port:      9090,
			Namespace: "causez",
		},
	}
}

// applyEnvOverrides reads CAUSEZ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAUSEZ_REPORTING_ENABLED_DEFAULT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reporting.EnabledByDefault = b
		}
	}
	if v := os.Getenv("CAUSEZ_REPORTING_ENABLED"); v != "" {
		cfg.Reporting.Enabled = splitList(v)
	}
	if v := os.Getenv("CAUSEZ_REPORTING_DISABLED"); v != "" {
		cfg.Reporting.Disabled = splitList(v)
	}
	if v := os.Getenv("CAUSEZ_TRANSPORT"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("CAUSEZ_KAFKA_BROKERS"); v != "" {
		cfg.Transport.Brokers = splitList(v)
	}
	if v := os.Getenv("CAUSEZ_KAFKA_TOPIC"); v != "" {
		cfg.Transport.Topic = v
	}
	if v := os.Getenv("CAUSEZ_REDIS_ADDR"); v != "" {
		cfg.Transport.RedisAddr = v
	}
	if v := os.Getenv("CAUSEZ_REDIS_PASSWORD"); v != "" {
		cfg.Transport.RedisPassword = v
	}
	if v := os.Getenv("CAUSEZ_REDIS_CHANNEL"); v != "" {
		cfg.Transport.Channel = v
	}
	if v := os.Getenv("CAUSEZ_QUEUE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Limit = n
		}
	}
	if v := os.Getenv("CAUSEZ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CAUSEZ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CAUSEZ_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
