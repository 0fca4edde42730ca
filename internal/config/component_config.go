package config

import (
	"strings"
	"time"

	"github.com/nkkko/supports/internal/api"
	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/internal/keyboard"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/internal/queue"
	"github.com/nkkko/supports/internal/telemetry"
)

// ToCenterConfig converts to notification center config
func (c *Config) ToCenterConfig() center.Config {
	return center.Config{
		LastCacheSize: c.Center.LastCacheSize,
	}
}

// ToQueueConfig converts to main dispatch queue config
func (c *Config) ToQueueConfig() queue.Config {
	return queue.Config{
		Name:       c.Queue.Name,
		BufferSize: c.Queue.BufferSize,
	}
}

// KeyboardMode returns the configured keyboard decoding mode
func (c *Config) KeyboardMode() keyboard.Mode {
	if strings.EqualFold(c.Keyboard.Mode, "strict") {
		return keyboard.Strict
	}
	return keyboard.Lenient
}

// ToAPIConfig converts to API config
func (c *Config) ToAPIConfig() api.Config {
	metricsPath := ""
	if c.Metrics.Enabled {
		metricsPath = c.Metrics.Endpoint
	}

	return api.Config{
		Addr:         c.Server.Addr,
		ReadTimeout:  time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(c.Server.IdleTimeout) * time.Second,
		MaxBodySize:  int64(c.Server.MaxBodySize),
		CORSOrigins:  c.Server.CORSOrigins,
		MetricsPath:  metricsPath,
		KeyboardMode: c.KeyboardMode(),
		ServiceName:  c.Telemetry.ServiceName,
		Stream: api.StreamConfig{
			SendBuffer:   c.Stream.SendBuffer,
			WriteTimeout: time.Duration(c.Stream.WriteTimeoutMs) * time.Millisecond,
			PingInterval: time.Duration(c.Stream.PingInterval) * time.Second,
			MaxNames:     c.Stream.MaxNames,
		},
	}
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	var format logging.LogFormat
	switch c.Logging.Format {
	case "console":
		format = logging.FormatConsole
	default:
		format = logging.FormatJSON
	}

	config := logging.DefaultConfig()
	config.Level = logging.LogLevel(strings.ToLower(c.Logging.Level))
	config.Format = format
	config.IncludeCaller = c.Logging.IncludeCaller
	config.GlobalFields = c.Logging.GlobalFields
	return config
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
		Insecure:      c.Telemetry.Insecure,
		Attributes:    c.Telemetry.Attributes,
	}
}
