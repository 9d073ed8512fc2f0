package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exshield/exshield/pkg/domain"
	"github.com/exshield/exshield/pkg/expr"
	"github.com/exshield/exshield/pkg/shield"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultAddress, cfg.Server.Address)
	require.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	require.Equal(t, shield.DefaultBypassParam, cfg.Shield.BypassParam)
	require.Equal(t, DefaultCacheSize, cfg.Shield.CacheSize)
	require.False(t, cfg.Shield.BypassAllowed)
	require.Empty(t, cfg.Shield.Rules)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "exshield.yaml", `
shield:
  bypass_allowed: true
  bypass_param: debug.skip
  cache_size: 250
  fail_on_missing_analysis: true
  rules:
    - name: max-count
      expression: query.count <= 100
      value_expression: query.count
      message: Count must not exceed 100
server:
  address: ":9000"
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Shield.BypassAllowed)
	require.Equal(t, "debug.skip", cfg.Shield.BypassParam)
	require.Equal(t, 250, cfg.Shield.CacheSize)
	require.True(t, cfg.Shield.FailOnMissingAnalysis)
	require.Equal(t, ":9000", cfg.Server.Address)
	require.Equal(t, "debug", cfg.Logging.Level)

	rules, err := cfg.Shield.DomainRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "max-count", rules[0].Name)
	require.Equal(t, "query.count <= 100", rules[0].Expression)
	require.Equal(t, "Count must not exceed 100", rules[0].Message)
}

func TestLoad_JSONFallback(t *testing.T) {
	path := writeConfig(t, "exshield.json", `{
  "shield": {
    "bypassAllowed": true,
    "cacheSize": 50,
    "rules": [
      {"name": "max-count", "expression": "query.count <= 100", "valueExpression": "query.count"}
    ]
  }
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Shield.BypassAllowed)
	require.Equal(t, 50, cfg.Shield.CacheSize)
	require.Len(t, cfg.Shield.Rules, 1)
	require.Equal(t, "query.count", cfg.Shield.Rules[0].ValueExpression)
}

func TestLoad_BlankRuleFieldsFailLoad(t *testing.T) {
	path := writeConfig(t, "exshield.yaml", `
shield:
  rules:
    - name: ""
      expression: query.count <= 100
`)
	_, err := Load(path)
	require.ErrorIs(t, err, domain.ErrInvalidRule)

	path = writeConfig(t, "exshield2.yaml", `
shield:
  rules:
    - name: max-count
      expression: "   "
`)
	_, err = Load(path)
	require.ErrorIs(t, err, domain.ErrInvalidRule)
}

func TestLoad_UncompilableGateFailsLoad(t *testing.T) {
	path := writeConfig(t, "exshield.yaml", `
shield:
  rules:
    - name: broken
      expression: "query.count >="
`)
	_, err := Load(path)
	require.ErrorIs(t, err, expr.ErrSyntax)
	require.Contains(t, err.Error(), "broken")
}

func TestLoad_NonPositiveCacheSizeDefaults(t *testing.T) {
	path := writeConfig(t, "exshield.yaml", `
shield:
  cache_size: -3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultCacheSize, cfg.Shield.CacheSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXSHIELD_LISTEN_ADDR", ":7777")
	t.Setenv("EXSHIELD_LOG_LEVEL", "warn")
	t.Setenv("EXSHIELD_BYPASS_ALLOWED", "true")
	t.Setenv("EXSHIELD_BYPASS_PARAM", "ops.bypass")
	t.Setenv("EXSHIELD_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("EXSHIELD_OTLP_INSECURE", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Server.Address)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.True(t, cfg.Shield.BypassAllowed)
	require.Equal(t, "ops.bypass", cfg.Shield.BypassParam)
	require.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	require.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestShieldOptions(t *testing.T) {
	path := writeConfig(t, "exshield.yaml", `
shield:
  bypass_allowed: true
  fail_on_missing_analysis: true
  rules:
    - name: max-count
      expression: query.count <= 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	opts, err := cfg.Shield.ShieldOptions()
	require.NoError(t, err)
	require.Len(t, opts.Rules, 1)
	require.True(t, opts.BypassAllowed)
	require.True(t, opts.FailOnMissingAnalysis)
	require.Equal(t, shield.DefaultBypassParam, opts.BypassParam)
	require.Equal(t, DefaultCacheSize, opts.CacheCapacity)
}
