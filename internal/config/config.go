package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kairos/internal/logging"
)

// Config models kairos.yml.
type Config struct {
	Drafts struct {
		TTL time.Duration `yaml:"ttl"`
		// MaxRepairs of 0 turns the repair loop off.
		MaxRepairs    int           `yaml:"max_repairs"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		// TokenSecret signs confirmation tokens. Never read from the file.
		TokenSecret string `yaml:"-"`
	} `yaml:"drafts"`
	Model    ModelConfig     `yaml:"model"`
	Context  ContextLimits   `yaml:"context"`
	Logging  logging.Config  `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ModelConfig struct {
	Provider      string        `yaml:"provider"`
	Name          string        `yaml:"name"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	RatePerMinute float64       `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
	APIKey        string        `yaml:"-"`
}

// ContextLimits bounds the rows per entity kind placed in a context pack.
type ContextLimits struct {
	Projects      int `yaml:"projects"`
	Tasks         int `yaml:"tasks"`
	Notes         int `yaml:"notes"`
	Events        int `yaml:"events"`
	Notifications int `yaml:"notifications"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	// Projects and Users narrow delivery; empty means any.
	Projects []string `yaml:"projects"`
	Users    []string `yaml:"users"`
	// Secret signs each delivery with HMAC-SHA256.
	Secret         string `yaml:"secret"`
	Enabled        *bool  `yaml:"enabled"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

var providers = map[string]struct{}{
	"openai":    {},
	"anthropic": {},
	"gemini":    {},
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with kairos init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Drafts.TTL <= 0 {
		return fmt.Errorf("config.drafts.ttl must be positive")
	}
	if c.Drafts.MaxRepairs < 0 {
		return fmt.Errorf("config.drafts.max_repairs must not be negative")
	}
	if c.Drafts.SweepInterval < 0 {
		return fmt.Errorf("config.drafts.sweep_interval must not be negative")
	}
	if _, ok := providers[c.Model.Provider]; !ok {
		return fmt.Errorf("config.model.provider must be one of openai, anthropic, gemini (got %q)", c.Model.Provider)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		return fmt.Errorf("config.model.name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("config.model.temperature must be within [0,2]")
	}
	if c.Model.RatePerMinute < 0 || c.Model.Burst < 0 {
		return fmt.Errorf("config.model rate limits must not be negative")
	}
	limits := map[string]int{
		"projects":      c.Context.Projects,
		"tasks":         c.Context.Tasks,
		"notes":         c.Context.Notes,
		"events":        c.Context.Events,
		"notifications": c.Context.Notifications,
	}
	for kind, n := range limits {
		if n <= 0 || n > 200 {
			return fmt.Errorf("config.context.%s must be within [1,200]", kind)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "kairos.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `drafts:
  ttl: 15m
  max_repairs: 2
  sweep_interval: 1m

model:
  provider: openai
  name: gpt-4o-mini
  temperature: 0.2
  max_tokens: 2048
  rate_per_minute: 60
  burst: 5
  timeout: 60s

context:
  projects: 10
  tasks: 50
  notes: 20
  events: 20
  notifications: 10

logging:
  level: info
  format: json
`
