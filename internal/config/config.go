// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ENVELOPE_SERVER_PORT.
const EnvPrefix = "ENVELOPE_SERVER"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port        int `mapstructure:"port"`
	HTTPPort    int `mapstructure:"http_port"`
	MetricsPort int `mapstructure:"metrics_port"`

	// Model configuration
	ModelName   string `mapstructure:"model_name"`
	Model       string `mapstructure:"model"`
	ONNXLibrary string `mapstructure:"onnx_library"`
	ModelInput  string `mapstructure:"model_input"`
	ModelOutput string `mapstructure:"model_output"`
	InputDim    int64  `mapstructure:"input_dim"`
	OutputDim   int64  `mapstructure:"output_dim"`
	UseMock     bool   `mapstructure:"use_mock"`

	// Result cache; empty Redis disables it
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Dynamic batching of HTTP requests
	MaxBatchSize  int           `mapstructure:"max_batch_size"`
	MaxBatchDelay time.Duration `mapstructure:"max_batch_delay"`
	MaxInFlight   int64         `mapstructure:"max_in_flight"`

	// Treat {"data": {"b64": ...}} instances as inline-encoded payloads
	InlineBase64 bool `mapstructure:"inline_base64"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// New returns a viper instance with defaults and environment binding applied.
// Callers may bind flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", 50051)
	v.SetDefault("http_port", 8080)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("model_name", "model")
	v.SetDefault("model", "model.onnx")
	v.SetDefault("onnx_library", "")
	v.SetDefault("model_input", "input")
	v.SetDefault("model_output", "output")
	v.SetDefault("input_dim", 4)
	v.SetDefault("output_dim", 2)
	v.SetDefault("use_mock", false)
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("max_batch_size", 16)
	v.SetDefault("max_batch_delay", 5*time.Millisecond)
	v.SetDefault("max_in_flight", 4)
	v.SetDefault("inline_base64", false)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Standard OTEL variable enables tracing when set. BindEnv only fails
	// without a key, which cannot happen here.
	_ = v.BindEnv("otel_endpoint", EnvPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	return v
}

// Load reads the optional config file into v and unmarshals the result.
// Priority (highest to lowest): flags > env vars > config file > defaults
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/envelope-server/")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.OTELEndpoint != "" {
		cfg.OTELEnabled = true
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ports := map[string]int{"port": c.Port, "http_port": c.HTTPPort, "metrics_port": c.MetricsPort}
	seen := make(map[int]string, len(ports))
	for _, name := range []string{"port", "http_port", "metrics_port"} {
		p := ports[name]
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid %s: %d", name, p)
		}
		if other, ok := seen[p]; ok {
			return fmt.Errorf("%s and %s must be different", other, name)
		}
		seen[p] = name
	}
	if c.ModelName == "" || strings.ContainsAny(c.ModelName, ":/") {
		return fmt.Errorf("invalid model_name: %q", c.ModelName)
	}
	if !c.UseMock {
		if c.Model == "" {
			return fmt.Errorf("model path is required when not using mock inference")
		}
		if c.InputDim <= 0 || c.OutputDim <= 0 {
			return fmt.Errorf("input_dim and output_dim must be positive")
		}
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.MaxBatchDelay < 0 {
		return fmt.Errorf("max_batch_delay must not be negative")
	}
	return nil
}
