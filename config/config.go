// Package config loads and watches the agentbridge configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file's basename.
const FileName = "agentbridge.yaml"

// Config holds everything the bridge reads from agentbridge.yaml. Field
// names double as the schema used to validate agent-initiated writes to
// this file, so yaml and json tags must agree.
type Config struct {
	Command               string            `yaml:"command" json:"command,omitempty"`
	Args                  []string          `yaml:"args" json:"args,omitempty"`
	RuntimeHome           string            `yaml:"runtime_home" json:"runtime_home,omitempty"`
	WorkDir               string            `yaml:"work_dir" json:"work_dir,omitempty"`
	Model                 string            `yaml:"model" json:"model,omitempty"`
	ReasoningEffort       string            `yaml:"reasoning_effort" json:"reasoning_effort,omitempty"`
	PermissionMode        string            `yaml:"permission_mode" json:"permission_mode,omitempty"`
	PlansDir              string            `yaml:"plans_dir" json:"plans_dir,omitempty"`
	ApprovalPolicy        string            `yaml:"approval_policy" json:"approval_policy,omitempty"`
	ActiveSources         []string          `yaml:"active_sources" json:"active_sources,omitempty"`
	SkillNamespace        string            `yaml:"skill_namespace" json:"skill_namespace,omitempty"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds" json:"request_timeout_seconds,omitempty"`
	PromptTimeoutSeconds  int               `yaml:"prompt_timeout_seconds" json:"prompt_timeout_seconds,omitempty"`
	Env                   map[string]string `yaml:"env" json:"env,omitempty"`
	CredentialsFile       string            `yaml:"credentials_file" json:"credentials_file,omitempty"`
	WritableRoots         []string          `yaml:"writable_roots" json:"writable_roots,omitempty"`
	NetworkAccess         bool              `yaml:"network_access" json:"network_access,omitempty"`
	LogLevel              string            `yaml:"log_level" json:"log_level,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Command:        "codex",
		Args:           []string{"app-server"},
		PermissionMode: "autonomous",
		ApprovalPolicy: "on-request",
		LogLevel:       "info",
	}
}

// Load reads the config at path. A missing file yields the default config;
// unknown keys are an error so typos do not silently disable settings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Default(), nil
		}
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "codex"
	}
	if len(c.Args) == 0 {
		c.Args = []string{"app-server"}
	}
	if c.PermissionMode == "" {
		c.PermissionMode = "autonomous"
	}
	if c.ApprovalPolicy == "" {
		c.ApprovalPolicy = "on-request"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks enum fields and ranges.
func (c *Config) Validate() error {
	switch c.PermissionMode {
	case "autonomous", "read-only", "interactive":
	default:
		return fmt.Errorf("invalid permission_mode %q", c.PermissionMode)
	}
	switch c.ApprovalPolicy {
	case "untrusted", "on-failure", "on-request", "never":
	default:
		return fmt.Errorf("invalid approval_policy %q", c.ApprovalPolicy)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("request_timeout_seconds must not be negative")
	}
	if c.PromptTimeoutSeconds < 0 {
		return fmt.Errorf("prompt_timeout_seconds must not be negative")
	}
	return nil
}

// RequestTimeout returns the configured request timeout, zero when unset.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// PromptTimeout returns the configured prompt timeout, zero when unset.
func (c *Config) PromptTimeout() time.Duration {
	return time.Duration(c.PromptTimeoutSeconds) * time.Second
}

// DefaultPath returns the conventional config location, preferring a file
// in the working directory over the user config dir.
func DefaultPath() string {
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "agentbridge", FileName)
}
