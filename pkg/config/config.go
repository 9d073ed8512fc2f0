// Package config provides configuration structures and loading logic for ExShield.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/exshield/exshield/pkg/domain"
	"github.com/exshield/exshield/pkg/expr"
	"github.com/exshield/exshield/pkg/shield"
)

// Defaults applied when the file or environment leaves a field unset.
const (
	DefaultAddress   = ":8090"
	DefaultLogLevel  = "info"
	DefaultCacheSize = 100
)

// Config holds the global configuration for ExShield.
type Config struct {
	Shield    ShieldConfig    `yaml:"shield" json:"shield"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// ShieldConfig holds the admission policy: the ordered rule list plus bypass
// and cache settings.
type ShieldConfig struct {
	BypassAllowed         bool         `yaml:"bypass_allowed" json:"bypassAllowed"`
	BypassParam           string       `yaml:"bypass_param" json:"bypassParam"`
	CacheSize             int          `yaml:"cache_size" json:"cacheSize"`
	FailOnMissingAnalysis bool         `yaml:"fail_on_missing_analysis" json:"failOnMissingAnalysis"`
	Rules                 []RuleConfig `yaml:"rules" json:"rules"`
}

// RuleConfig is one rule as authored in the configuration file.
type RuleConfig struct {
	Name            string `yaml:"name" json:"name"`
	Expression      string `yaml:"expression" json:"expression"`
	ValueExpression string `yaml:"value_expression" json:"valueExpression"`
	Message         string `yaml:"message" json:"message"`
}

// ServerConfig holds configuration for the standalone HTTP server.
type ServerConfig struct {
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlpEndpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
}

// Load reads configuration from a file (YAML, or JSON for .json paths), applies
// environment variable overrides, and validates the result. An empty path
// yields the defaults with no rules.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Shield: ShieldConfig{
			BypassParam: shield.DefaultBypassParam,
			CacheSize:   DefaultCacheSize,
		},
		Server: ServerConfig{
			Address: DefaultAddress,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// JSON is valid YAML, so the format must be picked by extension:
		// decoding camelCase JSON keys through the yaml tags would silently
		// drop every field.
		if strings.HasSuffix(path, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides layers EXSHIELD_* environment variables over the file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("EXSHIELD_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("EXSHIELD_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("EXSHIELD_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("EXSHIELD_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("EXSHIELD_BYPASS_ALLOWED"); val == "true" {
		cfg.Shield.BypassAllowed = true
	}
	if val := os.Getenv("EXSHIELD_BYPASS_PARAM"); val != "" {
		cfg.Shield.BypassParam = val
	}
}

// Validate checks the configuration, applying defaults for out-of-range
// values and rejecting rules with blank required fields or gate expressions
// that do not compile. A faulty rule fails the whole load; it must not
// silently become a no-op.
func (c *Config) Validate() error {
	if err := c.Shield.Validate(); err != nil {
		return fmt.Errorf("shield configuration: %w", err)
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		c.Server.Address = DefaultAddress
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = DefaultLogLevel
	}

	return nil
}

// Validate normalizes the shield settings and verifies every rule.
func (c *ShieldConfig) Validate() error {
	if strings.TrimSpace(c.BypassParam) == "" {
		c.BypassParam = shield.DefaultBypassParam
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}

	for i, rc := range c.Rules {
		rule, err := domain.NewRule(rc.Name, rc.Expression, rc.ValueExpression, rc.Message)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
		if _, err := expr.Compile(rule.Expression); err != nil {
			return fmt.Errorf("rule %q: gate expression does not compile: %w", rule.Name, err)
		}
	}

	return nil
}

// DomainRules converts the configured rule list into immutable domain rules.
func (c *ShieldConfig) DomainRules() ([]domain.Rule, error) {
	rules := make([]domain.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		rule, err := domain.NewRule(rc.Name, rc.Expression, rc.ValueExpression, rc.Message)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ShieldOptions converts the validated configuration into shield.Config.
func (c *ShieldConfig) ShieldOptions() (shield.Config, error) {
	rules, err := c.DomainRules()
	if err != nil {
		return shield.Config{}, err
	}
	return shield.Config{
		Rules:                 rules,
		BypassAllowed:         c.BypassAllowed,
		BypassParam:           c.BypassParam,
		FailOnMissingAnalysis: c.FailOnMissingAnalysis,
		CacheCapacity:         c.CacheSize,
	}, nil
}
