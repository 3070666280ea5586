package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFileName is looked up in the working directory when no path is given.
	DefaultFileName = ".speckit.yaml"

	// EnvPrefix prefixes every structured environment override.
	EnvPrefix = "SPECKIT_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// legacyEnv maps the older SPEC_KIT_* style variable names onto
// config keys. They are loaded before the SPECKIT_ variables so the
// structured names win when both are set.
var legacyEnv = map[string]string{
	"SPEC_KIT_ROOT":            "workspace",
	"SPEC_KIT_REBUILD_CONTEXT": "workflow.rebuild_context",
	"SPEC_KIT_MEMORY_SYNC":     "memory.enabled",
	"SPEC_KIT_AGENT_EXECUTOR":  "agent.executor",
	"SPEC_KIT_TEST_COMMAND":    "implement.test_command",
	"CLAUDE_CLI":               "agent.binary",
	"MEMORY_MCP_ENDPOINT":      "memory.endpoint",
	"MEMORY_MCP_COMMAND":       "memory.command",
	"ANALYTICS_MCP_ENDPOINT":   "analytics.endpoint",
	"ANALYTICS_MCP_COMMAND":    "analytics.command",
}

// Load reads configuration with the following precedence (highest last):
//
//  1. Hardcoded defaults
//  2. YAML file (configPath, or .speckit.yaml in the working directory)
//  3. Legacy environment variables (SPEC_KIT_ROOT, CLAUDE_CLI, ...)
//  4. SPECKIT_ environment variables (SPECKIT_AGENT_TIMEOUT -> agent.timeout)
//
// A missing default file is not an error; a missing explicit path is.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultFileName
	}

	content, err := readConfigFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// no project file
	default:
		return nil, err
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}

	// SPECKIT_AGENT_RATE_LIMIT -> agent.rate_limit: the first segment is the
	// section, the remainder is the field name.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		section, field, found := strings.Cut(lower, "_")
		if !found {
			return lower
		}
		return section + "." + field
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration built from defaults only.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// readConfigFile opens the file once and checks its size on the open
// descriptor before reading it.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
