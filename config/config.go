package config

import (
	"fmt"
	"os"

	"github.com/yairfalse/valvo/types"
	"gopkg.in/yaml.v3"
)

// Config is the full static configuration, loaded once at process start
// and passed explicitly into each component. Nothing mutates it afterwards.
type Config struct {
	Region string `yaml:"region"`

	// Severity maps rule names to enforcement tiers. Rules not listed
	// here classify as MEDIUM.
	Severity map[string]types.Severity `yaml:"severity,omitempty"`

	// Accounts maps account IDs to named environments
	// (dev/staging/prod/governance/tooling). Unknown accounts resolve
	// to "unknown".
	Accounts map[string]string `yaml:"accounts,omitempty"`

	// ProductionAccountID short-circuits environment resolution for the
	// one account that must never receive guarded network remediation
	ProductionAccountID string `yaml:"production_account_id,omitempty"`

	// Cross-account remediation role
	RoleName   string `yaml:"role_name"`
	ExternalID string `yaml:"external_id"`

	// Store and collaborator names
	HistoryTable         string `yaml:"history_table"`
	ExceptionsTable      string `yaml:"exceptions_table,omitempty"`
	RemediationFunction  string `yaml:"remediation_function,omitempty"`
	NotificationFunction string `yaml:"notification_function,omitempty"`
	QueueURL             string `yaml:"queue_url,omitempty"`

	// DefaultTags holds the per-environment tag sets applied by the
	// required-tags remediation. Keys are environment names; the "default"
	// entry is used for environments without their own set.
	DefaultTags map[string]map[string]string `yaml:"default_tags,omitempty"`

	// WALDir is where the remediation audit trail is written
	WALDir string `yaml:"wal_dir,omitempty"`
}

// DefaultSeverity returns the built-in rule classification table
func DefaultSeverity() map[string]types.Severity {
	return map[string]types.Severity{
		// LOW - auto-remediate
		"required-tags":                            types.SeverityLow,
		"s3-bucket-public-read-prohibited":         types.SeverityLow,
		"s3-bucket-level-public-access-prohibited": types.SeverityLow,
		"restricted-ssh":                           types.SeverityLow,
		"restricted-rdp":                           types.SeverityLow,

		// MEDIUM - notify
		"s3-bucket-public-write-prohibited": types.SeverityMedium,
		"restricted-common-ports":           types.SeverityMedium,

		// HIGH - log only, manual review
		"ec2-instance-managed-by-ssm": types.SeverityHigh,
		"iam-user-mfa-enabled":        types.SeverityHigh,
		"root-account-mfa-enabled":    types.SeverityHigh,
	}
}

// DefaultTagSets returns the built-in per-environment tag sets
func DefaultTagSets() map[string]map[string]string {
	return map[string]map[string]string{
		"default": {
			"Owner":       "PlatformOps",
			"CostCenter":  "0000",
			"Project":     "GovernanceRemediation",
			"Environment": "Production",
		},
		"dev": {
			"Owner":       "PlatformOps",
			"CostCenter":  "0000",
			"Project":     "GovernanceRemediation",
			"Environment": "Development",
		},
		"staging": {
			"Owner":       "PlatformOps",
			"CostCenter":  "0000",
			"Project":     "GovernanceRemediation",
			"Environment": "Staging",
		},
	}
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Severity == nil {
		c.Severity = DefaultSeverity()
	}
	if c.DefaultTags == nil {
		c.DefaultTags = DefaultTagSets()
	}
	if c.RoleName == "" {
		c.RoleName = "CloudGovernanceRemediationRole"
	}
	if c.ExternalID == "" {
		c.ExternalID = "CloudGovernance-Remediation-2024"
	}
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.HistoryTable == "" {
		return fmt.Errorf("history_table is required")
	}
	if c.RoleName == "" {
		return fmt.Errorf("role_name is required")
	}
	if c.ExternalID == "" {
		return fmt.Errorf("external_id is required")
	}
	for rule, sev := range c.Severity {
		switch sev {
		case types.SeverityLow, types.SeverityMedium, types.SeverityHigh:
		default:
			return fmt.Errorf("rule %s has invalid severity %q", rule, sev)
		}
	}
	return nil
}

// TagsFor returns the default tag set for an environment, falling back to
// the "default" set
func (c *Config) TagsFor(environment string) map[string]string {
	if tags, ok := c.DefaultTags[environment]; ok {
		return tags
	}
	return c.DefaultTags["default"]
}
