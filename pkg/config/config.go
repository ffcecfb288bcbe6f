// Package config loads and validates the worker's configuration file.
//
// The shape follows spec.md §6's "Configuration (recognized options)" list,
// and is loaded with goccy/go-yaml the same way the teacher repo's own
// pkg/config loads its agent configs.
package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/goccy/go-yaml"
)

// Defaults per spec.md §9's Open Question resolution.
const (
	DefaultAgentCPUs         = 1.0
	DefaultAgentMemLimit     = "1g"
	DefaultGameHostCPUs      = 1.0
	DefaultGameHostMemLimit  = "1g"
	DefaultJudgeTimeout      = 600 * time.Second
	DefaultBuildTimeout      = 60 * time.Second
	DefaultHeartbeatInterval = 3 * time.Second
)

// Config is the worker's full recognized configuration.
type Config struct {
	Name           string  `yaml:"name"`
	GameHostImage  string  `yaml:"game_host_image"`
	HTTPBaseURL    string  `yaml:"http_base_url"`
	WebSocketURL   string  `yaml:"websocket_url"`
	AgentCPUs      float64 `yaml:"agent_cpus"`
	AgentMemLimit  string  `yaml:"agent_mem_limit"`
	GameHostCPUs   float64 `yaml:"game_host_cpus"`
	GameHostMem    string  `yaml:"game_host_mem_limit"`
	JudgeTimeout   int     `yaml:"judge_timeout"` // seconds
	BuildTimeout   int     `yaml:"build_timeout"` // seconds
	LoggingLevel   string  `yaml:"logging_level"`
	DataDir        string  `yaml:"data_dir"`
	ImageRepo      string  `yaml:"image_repository"`
}

// Load reads and validates a YAML config file's bytes.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AgentCPUs == 0 {
		c.AgentCPUs = DefaultAgentCPUs
	}
	if c.AgentMemLimit == "" {
		c.AgentMemLimit = DefaultAgentMemLimit
	}
	if c.GameHostCPUs == 0 {
		c.GameHostCPUs = DefaultGameHostCPUs
	}
	if c.GameHostMem == "" {
		c.GameHostMem = DefaultGameHostMemLimit
	}
	if c.JudgeTimeout == 0 {
		c.JudgeTimeout = int(DefaultJudgeTimeout.Seconds())
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = int(DefaultBuildTimeout.Seconds())
	}
	if c.ImageRepo == "" {
		c.ImageRepo = "saiblo-worker-image"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	if c.GameHostImage == "" {
		return fmt.Errorf("config: game_host_image is required")
	}
	if _, err := units.RAMInBytes(c.AgentMemLimit); err != nil {
		return fmt.Errorf("config: invalid agent_mem_limit %q: %w", c.AgentMemLimit, err)
	}
	if _, err := units.RAMInBytes(c.GameHostMem); err != nil {
		return fmt.Errorf("config: invalid game_host_mem_limit %q: %w", c.GameHostMem, err)
	}
	return nil
}

// AgentMemLimitBytes parses AgentMemLimit into bytes.
func (c *Config) AgentMemLimitBytes() int64 {
	b, _ := units.RAMInBytes(c.AgentMemLimit)
	return b
}

// GameHostMemLimitBytes parses GameHostMem into bytes.
func (c *Config) GameHostMemLimitBytes() int64 {
	b, _ := units.RAMInBytes(c.GameHostMem)
	return b
}

// JudgeTimeoutDuration returns the judge timeout as a time.Duration.
func (c *Config) JudgeTimeoutDuration() time.Duration {
	return time.Duration(c.JudgeTimeout) * time.Second
}

// BuildTimeoutDuration returns the build timeout as a time.Duration.
func (c *Config) BuildTimeoutDuration() time.Duration {
	return time.Duration(c.BuildTimeout) * time.Second
}

// AgentNanoCPUs converts AgentCPUs into the NanoCPUs unit the container
// runtime API expects (1 CPU = 1e9 nano-CPUs), matching the conversion done
// in original_source/saiblo_worker/match_judger.py.
func (c *Config) AgentNanoCPUs() int64 {
	return int64(c.AgentCPUs * 1e9)
}

// GameHostNanoCPUs is the game host's equivalent of AgentNanoCPUs.
func (c *Config) GameHostNanoCPUs() int64 {
	return int64(c.GameHostCPUs * 1e9)
}
