// Package config loads and validates panelctl.yaml.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the log stream. They match the dashboard the console replaces.
const (
	DefaultMaxLines          = 500
	DefaultInterval          = 1
	DefaultReconnectAttempts = 10
	DefaultReconnectInterval = time.Second
	DefaultFlushWindow       = 300 * time.Millisecond
	DefaultBurstGuard        = 40
	DefaultPinTolerance      = 1

	// MaxInterval is the largest batching hint the backend accepts.
	MaxInterval = 10
)

// Config represents a panelctl.yaml file.
type Config struct {
	Version   int    `yaml:"version"`
	BaseAPI   string `yaml:"base_api"`
	Origin    string `yaml:"origin,omitempty"`
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
	Logs      Logs   `yaml:"logs"`

	// FilePath is the file the config was loaded from.
	FilePath string `yaml:"-"`
}

// Logs tunes the live log stream.
type Logs struct {
	MaxLines          int      `yaml:"max_lines"`
	Interval          int      `yaml:"interval"` // server batching hint, seconds; 0 disables
	ReconnectAttempts int      `yaml:"reconnect_attempts"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	FlushWindow       Duration `yaml:"flush_window"`
	BurstGuard        int      `yaml:"burst_guard"` // 0 or negative disables
	PinTolerance      int      `yaml:"pin_tolerance"`
}

// Duration is a time.Duration that reads and writes as "300ms".
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{Version: 1, BaseAPI: "http://127.0.0.1:8000/api", Logs: DefaultLogs()}
}

// DefaultLogs returns the stock log stream settings.
func DefaultLogs() Logs {
	return Logs{
		MaxLines:          DefaultMaxLines,
		Interval:          DefaultInterval,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectInterval: Duration(DefaultReconnectInterval),
		FlushWindow:       Duration(DefaultFlushWindow),
		BurstGuard:        DefaultBurstGuard,
		PinTolerance:      DefaultPinTolerance,
	}
}

// Parse decodes YAML and expands ${VAR} references. Log settings missing
// from the file keep their defaults; an explicit zero is kept as written.
func Parse(data []byte) (*Config, error) {
	c := Config{Logs: DefaultLogs()}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.interpolate()
	return &c, nil
}

// Load reads and parses the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.FilePath = path
	return c, nil
}

// Save writes c to path. The file may hold a token, so it is not world readable.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ResolveToken returns the inline token, or the trimmed contents of TokenFile.
func (c *Config) ResolveToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Config) interpolate() {
	c.BaseAPI = os.ExpandEnv(c.BaseAPI)
	c.Origin = os.ExpandEnv(c.Origin)
	c.Token = os.ExpandEnv(c.Token)
	c.TokenFile = os.ExpandEnv(c.TokenFile)
	c.LogFile = os.ExpandEnv(c.LogFile)
}
