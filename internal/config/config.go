package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models greenlight.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret             string `yaml:"jwt_secret"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Workflow struct {
		AllowReviewResubmission bool `yaml:"allow_review_resubmission"`
	} `yaml:"workflow"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "greenlight.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	return &cfg
}

// Load reads and validates config from workspace. A missing file yields
// the default config.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook %d has invalid url %q", i, hook.URL)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("webhook %d has empty event filter", i)
			}
		}
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  # HS256 secret for bearer tokens. Empty disables JWT auth.
  jwt_secret: ""
  # Accept the X-User-Id header as identity. Development only.
  allow_legacy_user_header: false

workflow:
  # Allow a reviewer to overwrite an already submitted review.
  allow_review_resubmission: false

# webhooks:
#   - url: https://example.test/hooks/greenlight
#     secret: change-me
#     events: [project_submitted, project_approved]
#     timeout_seconds: 5
`
