package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

func TestLoad_WritesTemplateWithDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	want, err := Default(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Weights != want.Weights || cfg.Aggregator != want.Aggregator || cfg.Ledger != want.Ledger {
		t.Errorf("template values differ from defaults:\n got %+v\nwant %+v", cfg.Aggregator, want.Aggregator)
	}
	if cfg.Providers.Retry.InitialDelay != 100*time.Millisecond || cfg.Cache.SentimentTTL != 30*time.Minute {
		t.Errorf("durations: retry %v sentiment ttl %v", cfg.Providers.Retry.InitialDelay, cfg.Cache.SentimentTTL)
	}
	if cfg.Store.DSN != filepath.Join(dir, "predictions.db") {
		t.Errorf("sqlite DSN = %q", cfg.Store.DSN)
	}
	if cfg.Aggregator.Horizon != models.HorizonMedium || cfg.Scan.MaxConcurrent != 500 {
		t.Errorf("aggregator %+v scan %+v", cfg.Aggregator, cfg.Scan)
	}

	// A second load reads the template back.
	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Fundamentals != cfg.Fundamentals {
		t.Error("reloading the template should be stable")
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	body := `
[aggregator]
margin = 0.2
horizon = "short"

[ledger]
noise_threshold = 0.02

[store]
driver = "memory"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BROKER_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("BROKER_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Aggregator.Margin != 0.2 || cfg.Aggregator.Horizon != models.HorizonShort {
		t.Errorf("aggregator = %+v", cfg.Aggregator)
	}
	if cfg.Aggregator.TopN != 5 {
		t.Errorf("unset keys keep defaults, top_n = %d", cfg.Aggregator.TopN)
	}
	if cfg.Ledger.NoiseThreshold != 0.02 || cfg.Store.Driver != "memory" {
		t.Errorf("ledger %+v store %+v", cfg.Ledger, cfg.Store)
	}
	if cfg.Cache.Addr != "redis.internal:6380" || cfg.Logging.Level != "debug" {
		t.Errorf("env overrides: cache %q level %q", cfg.Cache.Addr, cfg.Logging.Level)
	}

	engine := cfg.Engine()
	if engine.Aggregator.Margin != 0.2 || engine.Store.Driver != "memory" {
		t.Errorf("engine config = %+v", engine.Aggregator)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"rsi bands inverted", func(c *Config) { c.Indicators.RSIOversold = 80 }},
		{"macd periods inverted", func(c *Config) { c.Indicators.MACDFast = 30 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"kafka without brokers", func(c *Config) { c.Events.Backend = "kafka" }},
		{"http without url", func(c *Config) { c.Providers.Source = "http" }},
		{"yield band inverted", func(c *Config) { c.Fundamentals.YieldCeiling = 1 }},
		{"margin out of range", func(c *Config) { c.Aggregator.Margin = 2 }},
		{"too many scans", func(c *Config) { c.Scan.MaxConcurrent = 1000 }},
		{"scan spec without watchlist", func(c *Config) { c.Scheduler.ScanSpec = "0 0 16 * * *" }},
	}

	base, err := Default(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, apperrors.ErrConfigInvalid) {
				t.Errorf("err = %v, want ErrConfigInvalid", err)
			}
		})
	}
}
