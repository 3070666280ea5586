package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speckit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Feature-A", cfg.Workflow.Feature)
	assert.Equal(t, "explicit", cfg.Workflow.Precedence)
	assert.Equal(t, "cli", cfg.Agent.Executor)
	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, 30*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, DefaultMemoryCommand, cfg.Memory.Command)
	assert.Equal(t, DefaultAnalyticsCommand, cfg.Analytics.Command)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.False(t, cfg.Memory.Enabled)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
workspace: /tmp/ws
workflow:
  feature: Checkout
  include_verify: true
  precedence: resume
agent:
  executor: mock
  timeout: 90s
  rate_limit: 2
memory:
  enabled: true
  transport: nats
  nats_url: nats://127.0.0.1:4222
  token: s3cr3t
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ws", cfg.Workspace)
	assert.Equal(t, "Checkout", cfg.Workflow.Feature)
	assert.True(t, cfg.Workflow.IncludeVerify)
	assert.Equal(t, "resume", cfg.Workflow.Precedence)
	assert.Equal(t, "mock", cfg.Agent.Executor)
	assert.Equal(t, 90*time.Second, cfg.Agent.Timeout.Duration())
	assert.Equal(t, 2.0, cfg.Agent.RateLimit)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, "nats", cfg.Memory.Transport)
	assert.Equal(t, "s3cr3t", cfg.Memory.Token.Value())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("SPEC_KIT_ROOT", "/srv/project")
	t.Setenv("SPEC_KIT_REBUILD_CONTEXT", "1")
	t.Setenv("SPEC_KIT_MEMORY_SYNC", "1")
	t.Setenv("SPEC_KIT_AGENT_EXECUTOR", "noop")
	t.Setenv("SPEC_KIT_TEST_COMMAND", "make test")
	t.Setenv("CLAUDE_CLI", "/opt/claude")
	t.Setenv("MEMORY_MCP_ENDPOINT", "http://memory.local/mcp")
	t.Setenv("ANALYTICS_MCP_COMMAND", "analytics.custom")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/project", cfg.Workspace)
	assert.True(t, cfg.Workflow.RebuildContext)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, "noop", cfg.Agent.Executor)
	assert.Equal(t, "make test", cfg.Implement.TestCommand)
	assert.Equal(t, "/opt/claude", cfg.Agent.Binary)
	assert.Equal(t, "http://memory.local/mcp", cfg.Memory.Endpoint)
	assert.Equal(t, "analytics.custom", cfg.Analytics.Command)
}

func TestLoad_PrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("SPEC_KIT_AGENT_EXECUTOR", "noop")
	t.Setenv("SPECKIT_AGENT_EXECUTOR", "mock")
	t.Setenv("SPECKIT_AGENT_TIMEOUT", "2m")
	t.Setenv("SPECKIT_SERVER_PORT", "8088")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Agent.Executor)
	assert.Equal(t, 2*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"bad executor", func(c *Config) { c.Agent.Executor = "docker" }, ErrInvalidExecutor},
		{"bad precedence", func(c *Config) { c.Workflow.Precedence = "newest" }, ErrInvalidPrecedence},
		{"bad memory transport", func(c *Config) { c.Memory.Transport = "smtp" }, ErrInvalidTransport},
		{"bad analytics transport", func(c *Config) { c.Analytics.Transport = "kafka" }, ErrInvalidTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_Ranges(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Agent.RateLimit = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Telemetry.SampleRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(out))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
