package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "SUPPORTS_"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Center    CenterConfig    `yaml:"center"`
	Queue     QueueConfig     `yaml:"queue"`
	Stream    StreamConfig    `yaml:"stream"`
	Keyboard  KeyboardConfig  `yaml:"keyboard"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	MaxBodySize  int      `yaml:"max_body_size"`
	ReadTimeout  int      `yaml:"read_timeout"`
	WriteTimeout int      `yaml:"write_timeout"`
	IdleTimeout  int      `yaml:"idle_timeout"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// CenterConfig contains notification center settings
type CenterConfig struct {
	LastCacheSize int `yaml:"last_cache_size"`
}

// QueueConfig contains main dispatch queue settings
type QueueConfig struct {
	Name       string `yaml:"name"`
	BufferSize int    `yaml:"buffer_size"`
}

// StreamConfig contains WebSocket stream settings
type StreamConfig struct {
	SendBuffer     int `yaml:"send_buffer"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
	PingInterval   int `yaml:"ping_interval"`
	MaxNames       int `yaml:"max_names"`
}

// KeyboardConfig contains keyboard payload decoding settings
type KeyboardConfig struct {
	// "lenient" or "strict"
	Mode string `yaml:"mode"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodySize:  1048576, // 1MB
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
			CORSOrigins:  []string{"*"},
		},
		Center: CenterConfig{
			LastCacheSize: 128,
		},
		Queue: QueueConfig{
			Name:       "main",
			BufferSize: 256,
		},
		Stream: StreamConfig{
			SendBuffer:     64,
			WriteTimeoutMs: 5000,
			PingInterval:   30,
			MaxNames:       32,
		},
		Keyboard: KeyboardConfig{
			Mode: "lenient",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			GlobalFields:  map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "supportsd",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	switch strings.ToLower(c.Keyboard.Mode) {
	case "", "lenient", "strict":
	default:
		return fmt.Errorf("keyboard.mode must be lenient or strict, got %q", c.Keyboard.Mode)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1, got %g", c.Telemetry.SamplingRatio)
	}
	return nil
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	// Start with default configuration
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	// Override with environment variables
	applyEnvOverrides(config)

	// Override with command line flags (highest priority)
	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	// Server config overrides
	if addr := os.Getenv(EnvPrefix + "SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if origins := os.Getenv(EnvPrefix + "SERVER_CORS_ORIGINS"); origins != "" {
		config.Server.CORSOrigins = strings.Split(origins, ",")
	}

	envInt(EnvPrefix+"CENTER_LAST_CACHE_SIZE", &config.Center.LastCacheSize)
	envInt(EnvPrefix+"QUEUE_BUFFER_SIZE", &config.Queue.BufferSize)
	envInt(EnvPrefix+"STREAM_SEND_BUFFER", &config.Stream.SendBuffer)

	if mode := os.Getenv(EnvPrefix + "KEYBOARD_MODE"); mode != "" {
		config.Keyboard.Mode = mode
	}

	// Logging config overrides
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Telemetry config overrides
	if enabled := os.Getenv(EnvPrefix + "TELEMETRY_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Telemetry.Enabled = val
		}
	}
	if endpoint := os.Getenv(EnvPrefix + "TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
	}
}

func envInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("env", key).Str("value", raw).Msg("Ignoring non-integer environment override")
		return
	}
	*dst = val
}
