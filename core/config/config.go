// Package config loads and validates the runtime configuration. Validation
// failures are fatal at startup; a missing config file falls back to the
// defaults so a bare checkout runs out of the box.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration.
type Config struct {
	Bus          BusConfig          `yaml:"bus"`
	Conversation ConversationConfig `yaml:"conversation"`
	Interruption InterruptionConfig `yaml:"interruption"`
	Health       HealthConfig       `yaml:"health"`
	Web          WebConfig          `yaml:"web"`
}

// BusConfig configures the message broker.
type BusConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

// ConversationConfig configures the conversation manager.
type ConversationConfig struct {
	ContextBufferSize   int           `yaml:"context_buffer_size"`
	ConversationTimeout time.Duration `yaml:"conversation_timeout"`
}

// InterruptionConfig configures the barge-in coordinator.
type InterruptionConfig struct {
	VADThreshold float64       `yaml:"vad_threshold"`
	Cooldown     time.Duration `yaml:"cooldown"`
	AckTimeout   time.Duration `yaml:"ack_timeout"`
}

// HealthConfig configures service probes and circuit breakers.
type HealthConfig struct {
	CheckInterval    time.Duration        `yaml:"check_interval"`
	ProbeTimeout     time.Duration        `yaml:"probe_timeout"`
	FailureThreshold int                  `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration        `yaml:"recovery_timeout"`
	Services         []ServiceConfig      `yaml:"services"`
	Resources        ResourceLimitsConfig `yaml:"resources"`
}

// ServiceConfig declares one monitored dependency.
type ServiceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ResourceLimitsConfig sets host usage alert thresholds in percent.
type ResourceLimitsConfig struct {
	CPUPercent    float64 `yaml:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent"`
	DiskPercent   float64 `yaml:"disk_percent"`
}

// WebConfig configures the websocket bridge.
type WebConfig struct {
	Bind string `yaml:"bind"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			QueueCapacity: 1000,
		},
		Conversation: ConversationConfig{
			ContextBufferSize:   100,
			ConversationTimeout: 5 * time.Minute,
		},
		Interruption: InterruptionConfig{
			VADThreshold: 0.01,
			Cooldown:     time.Second,
			AckTimeout:   500 * time.Millisecond,
		},
		Health: HealthConfig{
			CheckInterval:    30 * time.Second,
			ProbeTimeout:     10 * time.Second,
			FailureThreshold: 3,
			RecoveryTimeout:  2 * time.Minute,
			Resources: ResourceLimitsConfig{
				CPUPercent:    95,
				MemoryPercent: 95,
				DiskPercent:   95,
			},
		},
		Web: WebConfig{
			Bind: "127.0.0.1:8765",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file returns
// the defaults unchanged; a present but invalid file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would make the runtime misbehave silently.
func (c *Config) Validate() error {
	if c.Bus.QueueCapacity <= 0 {
		return fmt.Errorf("bus.queue_capacity must be positive, got %d", c.Bus.QueueCapacity)
	}
	if c.Conversation.ContextBufferSize <= 0 {
		return fmt.Errorf("conversation.context_buffer_size must be positive, got %d", c.Conversation.ContextBufferSize)
	}
	if c.Conversation.ConversationTimeout <= 0 {
		return fmt.Errorf("conversation.conversation_timeout must be positive, got %s", c.Conversation.ConversationTimeout)
	}
	if c.Interruption.VADThreshold <= 0 || c.Interruption.VADThreshold >= 1 {
		return fmt.Errorf("interruption.vad_threshold must be in (0, 1), got %g", c.Interruption.VADThreshold)
	}
	if c.Interruption.Cooldown < 0 {
		return fmt.Errorf("interruption.cooldown must not be negative, got %s", c.Interruption.Cooldown)
	}
	if c.Interruption.AckTimeout <= 0 {
		return fmt.Errorf("interruption.ack_timeout must be positive, got %s", c.Interruption.AckTimeout)
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be positive, got %s", c.Health.CheckInterval)
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be positive, got %s", c.Health.ProbeTimeout)
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be positive, got %d", c.Health.FailureThreshold)
	}
	if c.Health.RecoveryTimeout <= 0 {
		return fmt.Errorf("health.recovery_timeout must be positive, got %s", c.Health.RecoveryTimeout)
	}
	for _, service := range c.Health.Services {
		if service.Name == "" {
			return fmt.Errorf("health.services entries need a name")
		}
		if service.URL == "" {
			return fmt.Errorf("health service %q needs a url", service.Name)
		}
	}
	for _, limit := range []struct {
		name  string
		value float64
	}{
		{"cpu_percent", c.Health.Resources.CPUPercent},
		{"memory_percent", c.Health.Resources.MemoryPercent},
		{"disk_percent", c.Health.Resources.DiskPercent},
	} {
		if limit.value <= 0 || limit.value > 100 {
			return fmt.Errorf("health.resources.%s must be in (0, 100], got %g", limit.name, limit.value)
		}
	}
	if c.Web.Bind == "" {
		return fmt.Errorf("web.bind must not be empty")
	}
	return nil
}
