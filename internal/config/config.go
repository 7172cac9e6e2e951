package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models rentproof.yml.
type Config struct {
	Case struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"case" json:"case"`
	Billing struct {
		DefaultPlan      string   `yaml:"default_plan" json:"default_plan"`
		PrivilegedEmails []string `yaml:"privileged_emails" json:"privileged_emails,omitempty"`
	} `yaml:"billing" json:"billing"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rp case config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Case.ID == "" {
		return fmt.Errorf("config.case.id is required")
	}
	switch c.Billing.DefaultPlan {
	case "free", "plus", "pro":
	case "":
		return fmt.Errorf("config.billing.default_plan is required")
	default:
		return fmt.Errorf("config.billing.default_plan must be free, plus or pro")
	}
	for i, email := range c.Billing.PrivilegedEmails {
		if strings.TrimSpace(email) == "" {
			return fmt.Errorf("config.billing.privileged_emails[%d] is empty", i)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// IsPrivileged reports whether the email matches a configured privileged
// account. Matching is case-insensitive.
func (c *Config) IsPrivileged(email string) bool {
	if email == "" {
		return false
	}
	for _, candidate := range c.Billing.PrivilegedEmails {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rentproof.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(caseID string) string {
	return fmt.Sprintf(defaultTemplate, caseID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a case.
func Default(caseID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, caseID))).Decode(&cfg)
	cfg.Case.ID = caseID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `case:
  id: %s

billing:
  default_plan: free
  privileged_emails: []
`
