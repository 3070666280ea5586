// Package config provides configuration loading for speckit.
//
// Configuration is resolved once at the CLI boundary. Internal packages take
// plain parameters and never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete speckit configuration.
type Config struct {
	Workspace string          `koanf:"workspace"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Agent     AgentConfig     `koanf:"agent"`
	Implement ImplementConfig `koanf:"implement"`
	Memory    MemoryConfig    `koanf:"memory"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Server    ServerConfig    `koanf:"server"`
	Dashboard DashboardConfig `koanf:"dashboard"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// WorkflowConfig controls phase ordering and context resolution.
type WorkflowConfig struct {
	Feature        string `koanf:"feature"`
	IncludeVerify  bool   `koanf:"include_verify"`
	Precedence     string `koanf:"precedence"` // explicit | resume
	RebuildContext bool   `koanf:"rebuild_context"`
	Validate       bool   `koanf:"validate"`
}

// AgentConfig controls how phase agents are invoked.
type AgentConfig struct {
	Executor     string   `koanf:"executor"` // cli | mock | noop
	Binary       string   `koanf:"binary"`
	Timeout      Duration `koanf:"timeout"`
	RateLimit    float64  `koanf:"rate_limit"` // invocations per second, 0 disables
	Burst        int      `koanf:"burst"`
	ScrubSecrets bool     `koanf:"scrub_secrets"`
}

// ImplementConfig controls the implement phase.
type ImplementConfig struct {
	TestCommand string `koanf:"test_command"`
}

// MemoryConfig controls context envelope sync.
type MemoryConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Transport     string `koanf:"transport"` // http | nats | mcp
	Endpoint      string `koanf:"endpoint"`
	Command       string `koanf:"command"`
	Token         Secret `koanf:"token"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// AnalyticsConfig controls where run metrics are pushed.
type AnalyticsConfig struct {
	Transport      string `koanf:"transport"` // http | nats | mcp
	Endpoint       string `koanf:"endpoint"`
	Command        string `koanf:"command"`
	Token          Secret `koanf:"token"`
	NATSURL        string `koanf:"nats_url"`
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`
	HistoryDB      string `koanf:"history_db"`
}

// ServerConfig holds HTTP status API configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DashboardConfig holds terminal dashboard configuration.
type DashboardConfig struct {
	Interval Duration `koanf:"interval"`
}

// LoggingConfig is the user-facing subset of logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the user-facing subset of OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"` // grpc | http/protobuf
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default command names understood by the MCP bridges.
const (
	DefaultMemoryCommand    = "memory.saveContext"
	DefaultAnalyticsCommand = "analytics.recordMetrics"
)

// Validation errors.
var (
	ErrInvalidExecutor   = errors.New("agent.executor must be one of cli, mock, noop")
	ErrInvalidPrecedence = errors.New("workflow.precedence must be explicit or resume")
	ErrInvalidTransport  = errors.New("transport must be one of http, nats, mcp")
)

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.Workflow.Feature == "" {
		cfg.Workflow.Feature = "Feature-A"
	}
	if cfg.Workflow.Precedence == "" {
		cfg.Workflow.Precedence = "explicit"
	}

	if cfg.Agent.Executor == "" {
		cfg.Agent.Executor = "cli"
	}
	if cfg.Agent.Binary == "" {
		cfg.Agent.Binary = "claude"
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = Duration(30 * time.Minute)
	}
	if cfg.Agent.Burst == 0 {
		cfg.Agent.Burst = 1
	}

	if cfg.Memory.Command == "" {
		cfg.Memory.Command = DefaultMemoryCommand
	}
	if cfg.Memory.Transport == "" {
		cfg.Memory.Transport = "http"
	}
	if cfg.Memory.SubjectPrefix == "" {
		cfg.Memory.SubjectPrefix = "speckit"
	}

	if cfg.Analytics.Command == "" {
		cfg.Analytics.Command = DefaultAnalyticsCommand
	}
	if cfg.Analytics.Transport == "" {
		cfg.Analytics.Transport = "http"
	}
	if cfg.Analytics.Job == "" {
		cfg.Analytics.Job = "speckit"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Dashboard.Interval == 0 {
		cfg.Dashboard.Interval = Duration(2 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Agent.Executor {
	case "cli", "mock", "noop":
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidExecutor, c.Agent.Executor)
	}

	switch c.Workflow.Precedence {
	case "explicit", "resume":
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidPrecedence, c.Workflow.Precedence)
	}

	if err := validTransport("memory", c.Memory.Transport); err != nil {
		return err
	}
	if err := validTransport("analytics", c.Analytics.Transport); err != nil {
		return err
	}

	if c.Agent.RateLimit < 0 {
		return fmt.Errorf("agent.rate_limit must be >= 0, got %v", c.Agent.RateLimit)
	}
	if c.Agent.Burst < 1 {
		return fmt.Errorf("agent.burst must be >= 1, got %d", c.Agent.Burst)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}

	return nil
}

func validTransport(section, transport string) error {
	switch transport {
	case "http", "nats", "mcp":
		return nil
	}
	return fmt.Errorf("%s: %w, got %q", section, ErrInvalidTransport, transport)
}
