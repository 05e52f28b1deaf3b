package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig is the node's configuration, persisted in node.yaml.
type NodeConfig struct {
	Gateway      GatewayConfig  `yaml:"gateway"`
	DisplayName  string         `yaml:"display_name,omitempty"`
	Workspace    []string       `yaml:"workspace,omitempty"`
	Capabilities []string       `yaml:"capabilities,omitempty"` // empty: derived from command namespaces
	Terminal     TerminalConfig `yaml:"terminal"`
	Limits       LimitsConfig   `yaml:"limits"`
	Activity     ActivityConfig `yaml:"activity"`
	Logging      LoggingConfig  `yaml:"logging"`
}

type GatewayConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	TLS   bool   `yaml:"tls,omitempty"`
	Token string `yaml:"token,omitempty"`
}

type TerminalConfig struct {
	Allowlist []string `yaml:"allowlist,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty"` // Go duration, e.g. "60s"
}

type LimitsConfig struct {
	InvocationsPerSecond float64 `yaml:"invocations_per_second"`
	Burst                int     `yaml:"burst"`
}

type ActivityConfig struct {
	DB     string `yaml:"db,omitempty"` // default <dir>/activity.db
	Retain int    `yaml:"retain"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 18789
	DefaultTerminalTimeout = 60 * time.Second
)

// Default returns the configuration used when node.yaml does not exist.
func Default() *NodeConfig {
	return &NodeConfig{
		Gateway:  GatewayConfig{Host: DefaultHost, Port: DefaultPort},
		Terminal: TerminalConfig{Timeout: DefaultTerminalTimeout.String()},
		Limits:   LimitsConfig{InvocationsPerSecond: 20, Burst: 40},
		Activity: ActivityConfig{Retain: 1000},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads node.yaml at path over the defaults. A missing file is not an
// error. Environment overrides are applied before validation.
func Load(path string) (*NodeConfig, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Workspace = expandAll(cfg.Workspace)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (*NodeConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Edit applies fn to the file's own contents and writes the result back.
// Environment overrides are not applied, so they never end up persisted.
func Edit(path string, fn func(*NodeConfig)) error {
	cfg, err := readFile(path)
	if err != nil {
		return err
	}
	fn(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return Save(path, cfg)
}

func (c *NodeConfig) applyEnv() error {
	if v := os.Getenv("NODEHOST_GATEWAY_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("NODEHOST_GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NODEHOST_GATEWAY_PORT: %w", err)
		}
		c.Gateway.Port = port
	}
	if v := os.Getenv("NODEHOST_GATEWAY_TOKEN"); v != "" {
		c.Gateway.Token = v
	}
	if v := os.Getenv("NODEHOST_GATEWAY_TLS"); v != "" {
		tls, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NODEHOST_GATEWAY_TLS: %w", err)
		}
		c.Gateway.TLS = tls
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *NodeConfig) Validate() error {
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be 1-65535, got %d", c.Gateway.Port)
	}
	if c.Limits.InvocationsPerSecond < 0 {
		return fmt.Errorf("limits.invocations_per_second must not be negative")
	}
	if c.Limits.Burst < 0 {
		return fmt.Errorf("limits.burst must not be negative")
	}
	if c.Activity.Retain < 0 {
		return fmt.Errorf("activity.retain must not be negative")
	}
	if c.Terminal.Timeout != "" {
		d, err := time.ParseDuration(c.Terminal.Timeout)
		if err != nil {
			return fmt.Errorf("terminal.timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("terminal.timeout must be positive")
		}
	}
	return nil
}

// TerminalTimeout is the default deadline for terminal.run.
func (c *NodeConfig) TerminalTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Terminal.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultTerminalTimeout
}

// ActivityDB is the activity database path, defaulting into dir.
func (c *NodeConfig) ActivityDB(dir string) string {
	if c.Activity.DB != "" {
		return expandHome(c.Activity.DB)
	}
	return filepath.Join(dir, "activity.db")
}

// Save writes cfg to path. The file holds the gateway token, so it is owner-only.
func Save(path string, cfg *NodeConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
