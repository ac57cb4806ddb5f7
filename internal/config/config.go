package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Oracle   OracleConfig   `yaml:"oracle" mapstructure:"oracle"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Evaluate EvaluateConfig `yaml:"evaluate" mapstructure:"evaluate"`
	Credit   CreditConfig   `yaml:"credit" mapstructure:"credit"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// OracleConfig configures the Anthropic-backed reasoning oracle.
type OracleConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DataConfig locates the persisted policy and reasoning bank snapshots.
type DataConfig struct {
	PolicyPath     string `yaml:"policy_path" mapstructure:"policy_path"`
	BankPath       string `yaml:"bank_path" mapstructure:"bank_path"`
	PolicySeedPath string `yaml:"policy_seed_path" mapstructure:"policy_seed_path"`
}

// EvaluateConfig holds portfolio evaluation defaults.
type EvaluateConfig struct {
	RiskySectors    []string `yaml:"risky_sectors" mapstructure:"risky_sectors"`
	CorrelatedEvent string   `yaml:"correlated_event" mapstructure:"correlated_event"`
	UseOracle       bool     `yaml:"use_oracle" mapstructure:"use_oracle"`
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	HistoryPath     string   `yaml:"history_path" mapstructure:"history_path"`
}

// CreditConfig tunes the credit scoring engine.
type CreditConfig struct {
	PrincipalEstimateFraction float64 `yaml:"principal_estimate_fraction" mapstructure:"principal_estimate_fraction"`
}

// StoreConfig configures the evaluation run store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("sentinel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.timeout_secs", 30)
	v.SetDefault("oracle.max_tokens", 500)
	v.SetDefault("oracle.rate_per_sec", 2.0)
	v.SetDefault("oracle.max_attempts", 3)
	v.SetDefault("oracle.failure_threshold", 5)
	v.SetDefault("oracle.reset_timeout_secs", 60)
	v.SetDefault("data.policy_path", "data/policy_state.json")
	v.SetDefault("data.bank_path", "data/reasoning_bank.json")
	v.SetDefault("evaluate.risky_sectors", []string{"energy", "oil & gas", "mining"})
	v.SetDefault("evaluate.correlated_event", "Geopolitical risk escalation")
	v.SetDefault("evaluate.use_oracle", false)
	v.SetDefault("evaluate.concurrency", 4)
	v.SetDefault("credit.principal_estimate_fraction", 0.10)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/runs.db")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Evaluate.Concurrency < 1 || c.Evaluate.Concurrency > 64 {
		errs = append(errs, "evaluate.concurrency must be between 1 and 64")
	}
	if c.Credit.PrincipalEstimateFraction < 0 || c.Credit.PrincipalEstimateFraction > 1 {
		errs = append(errs, "credit.principal_estimate_fraction must be between 0 and 1")
	}

	switch mode {
	case "evaluate":
		if c.Evaluate.UseOracle && c.Oracle.Key == "" {
			errs = append(errs, "oracle.key is required when evaluate.use_oracle is set")
		}
	case "policy":
		if c.Data.PolicyPath == "" {
			errs = append(errs, "data.policy_path is required")
		}
		if c.Data.BankPath == "" {
			errs = append(errs, "data.bank_path is required")
		}
	case "runs":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "ratios":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
