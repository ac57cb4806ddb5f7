package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No sentinel.yaml in a fresh temp dir
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 30, cfg.Oracle.TimeoutSecs)
	assert.Equal(t, 500, cfg.Oracle.MaxTokens)
	assert.Equal(t, 3, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 4, cfg.Evaluate.Concurrency)
	assert.False(t, cfg.Evaluate.UseOracle)
	assert.Contains(t, cfg.Evaluate.RiskySectors, "energy")
	assert.InDelta(t, 0.10, cfg.Credit.PrincipalEstimateFraction, 0.0001)
	assert.Equal(t, "data/policy_state.json", cfg.Data.PolicyPath)
	assert.Equal(t, "data/reasoning_bank.json", cfg.Data.BankPath)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
evaluate:
  risky_sectors: [shipping, energy]
  concurrency: 8
credit:
  principal_estimate_fraction: 0.2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentinel.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"shipping", "energy"}, cfg.Evaluate.RiskySectors)
	assert.Equal(t, 8, cfg.Evaluate.Concurrency)
	assert.InDelta(t, 0.2, cfg.Credit.PrincipalEstimateFraction, 0.0001)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Oracle.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentinel.yaml"), []byte(yaml), 0o644))

	t.Setenv("SENTINEL_STORE_DRIVER", "postgres")
	t.Setenv("SENTINEL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SENTINEL_ORACLE_TIMEOUT_SECS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Oracle.TimeoutSecs)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentinel.yaml"), []byte("log: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Evaluate.Concurrency = 4
	cfg.Credit.PrincipalEstimateFraction = 0.1
	cfg.Data.PolicyPath = "policy.json"
	cfg.Data.BankPath = "bank.json"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "runs.db"
	return cfg
}

func TestValidateEvaluate_OracleKeyRequired(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("evaluate"))

	cfg.Evaluate.UseOracle = true
	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle.key is required")

	cfg.Oracle.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("evaluate"))
}

func TestValidatePolicy_MissingPaths(t *testing.T) {
	cfg := validDefaults()
	cfg.Data.PolicyPath = ""
	cfg.Data.BankPath = ""

	err := cfg.Validate("policy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.policy_path is required")
	assert.Contains(t, err.Error(), "data.bank_path is required")
}

func TestValidateRuns_Driver(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("runs"))

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be sqlite or postgres")
}

func TestValidateBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Evaluate.Concurrency = 0
	err := cfg.Validate("ratios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate.concurrency must be between 1 and 64")

	cfg.Evaluate.Concurrency = 4
	cfg.Credit.PrincipalEstimateFraction = 1.5
	err = cfg.Validate("ratios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "principal_estimate_fraction")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
