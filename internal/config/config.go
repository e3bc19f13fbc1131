// Package config loads the assistant configuration from config.toml and
// BROKER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"broker-assistant/internal/advisor"
	"broker-assistant/internal/analysis/fundamentals"
	"broker-assistant/internal/analysis/indicators"
	"broker-assistant/internal/analysis/patterns"
	"broker-assistant/internal/analysis/scoring"
	"broker-assistant/internal/api"
	"broker-assistant/internal/cache"
	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/events"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/logging"
	"broker-assistant/internal/providers"
	"broker-assistant/internal/scanner"
	"broker-assistant/internal/scheduler"
	"broker-assistant/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BROKER"

// Config holds all application configuration.
type Config struct {
	Indicators   indicators.EvaluatorConfig `mapstructure:"indicators"`
	Patterns     patterns.Config            `mapstructure:"patterns"`
	Fundamentals fundamentals.Thresholds    `mapstructure:"fundamentals"`
	Weights      scoring.WeightTable        `mapstructure:"weights"`
	Aggregator   scoring.Config             `mapstructure:"aggregator"`
	Ledger       ledger.Config              `mapstructure:"ledger"`
	Scan         scanner.Config             `mapstructure:"scan"`
	Store        store.Config               `mapstructure:"store"`
	Cache        cache.Config               `mapstructure:"cache"`
	Events       events.Config              `mapstructure:"events"`
	Providers    providers.Config           `mapstructure:"providers"`
	Server       api.Config                 `mapstructure:"server"`
	Scheduler    scheduler.Config           `mapstructure:"scheduler"`
	Logging      logging.LogConfig          `mapstructure:"logging"`

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// envAliases are short environment names for settings that usually differ
// between deployments. Every other key is reachable as BROKER_<SECTION>_<KEY>.
var envAliases = map[string]string{
	"store.dsn":              "BROKER_STORE_DSN",
	"store.driver":           "BROKER_STORE_DRIVER",
	"cache.addr":             "BROKER_REDIS_ADDR",
	"cache.password":         "BROKER_REDIS_PASSWORD",
	"events.kafka.brokers":   "BROKER_KAFKA_BROKERS",
	"providers.base_url":     "BROKER_PROVIDER_URL",
	"providers.api_key":      "BROKER_PROVIDER_API_KEY",
	"providers.fixture_path": "BROKER_FIXTURE_PATH",
	"logging.level":          "BROKER_LOG_LEVEL",
	"server.port":            "BROKER_SERVER_PORT",
}

var validate = validator.New()

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "broker-assistant")
	}
	return filepath.Join(home, ".config", "broker-assistant")
}

// Default returns the configuration used when no file sets a value.
func Default(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	cfg := &Config{Dir: configDir}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	cfg.fillPaths()
	return cfg, nil
}

// Load reads config.toml from configDir, writing a template first when the
// file does not exist, and applies environment overrides.
func Load(configDir string) (*Config, error) {
	cfg, err := Default(configDir)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(cfg.Dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(cfg.Dir); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading template config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// fillPaths puts file-backed defaults under the configuration directory.
func (c *Config) fillPaths() {
	if c.Store.Driver == store.DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.Dir, "predictions.db")
	}
	if c.Events.Audit.Path == "" {
		c.Events.Audit.Path = filepath.Join(c.Dir, "audit", "ledger.log")
	}
	if c.Logging.File && c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.Dir, "logs", "assistant.log")
	}
}

// Path returns the location of config.toml.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, "config.toml")
}

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}

	var problems []string
	if c.Indicators.RSIOversold >= c.Indicators.RSIOverbought {
		problems = append(problems, "indicators.rsi_oversold must be below rsi_overbought")
	}
	if c.Indicators.StochasticOversold >= c.Indicators.StochasticOverbought {
		problems = append(problems, "indicators.stochastic_oversold must be below stochastic_overbought")
	}
	if c.Indicators.MACDFast >= c.Indicators.MACDSlow {
		problems = append(problems, "indicators.macd_fast must be below macd_slow")
	}
	if c.Store.Driver == store.DriverPostgres && c.Store.DSN == "" {
		problems = append(problems, "store.dsn is required for postgres")
	}
	if c.Cache.Backend == "redis" && c.Cache.Addr == "" {
		problems = append(problems, "cache.addr is required for redis")
	}
	if c.Events.Backend == events.BackendKafka && len(c.Events.Kafka.Brokers) == 0 {
		problems = append(problems, "events.kafka.brokers is required for kafka")
	}
	if c.Providers.Source == providers.SourceHTTP && c.Providers.BaseURL == "" {
		problems = append(problems, "providers.base_url is required for the http source")
	}
	if c.Scheduler.ScanSpec != "" && len(c.Scheduler.Watchlist) == 0 {
		problems = append(problems, "scheduler.watchlist is required when scan_spec is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Engine returns the component configuration of the advisor.
func (c *Config) Engine() advisor.Config {
	return advisor.Config{
		Indicators:   c.Indicators,
		Patterns:     c.Patterns,
		Fundamentals: c.Fundamentals,
		Weights:      c.Weights,
		Aggregator:   c.Aggregator,
		Ledger:       c.Ledger,
		Scan:         c.Scan,
		Store:        c.Store,
		Cache:        c.Cache,
		Events:       c.Events,
		Providers:    c.Providers,
	}
}

// Redacted returns a copy safe to print, with credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Providers.APIKey = mask(c.Providers.APIKey)
	out.Cache.Password = mask(c.Cache.Password)
	if c.Store.Driver == store.DriverPostgres {
		out.Store.DSN = mask(c.Store.DSN)
	}
	return &out
}
