package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Broker Assistant Configuration
# Any key can be overridden with BROKER_<SECTION>_<KEY>, e.g. BROKER_STORE_DSN.

[indicators]
rsi_period = 14
rsi_oversold = 30.0
rsi_overbought = 70.0
bollinger_period = 20
bollinger_stddev = 2.0
stochastic_k = 14
stochastic_d = 3
stochastic_smooth = 1
stochastic_oversold = 20.0
stochastic_overbought = 80.0
macd_fast = 12
macd_slow = 26
macd_signal = 9

[patterns]
# Primary matches below this confidence are dropped
confidence_threshold = 0.8
# Only patterns ending within the last N candles are reported
recent_window = 5

[fundamentals]
pe_enabled = true
pe_ceiling = 20.0
pb_enabled = true
pb_ceiling = 1.0
yield_enabled = true
# Dividend yield band in percent
yield_floor = 2.0
yield_ceiling = 8.0

[weights]
rsi = 0.25
bollinger = 0.15
stochastic_crossover = 0.10
stochastic_zone = 0.15
macd = 0.20
pattern_scale = 0.30
fundamental_pass = 0.10
fundamental_fail = 0.05
sentiment_scale = 0.30

[aggregator]
# BUY or SELL needs this lead over the other side
margin = 0.1
# Contributing factors kept on a prediction
top_n = 5
# short (7d), medium (30d) or long (90d)
horizon = "medium"
target_pct = 0.05
stop_loss_pct = 0.03
model_version = "1.0"

[ledger]
# Price moves below this fraction count as flat
noise_threshold = 0.01
history_limit = 50

[scan]
max_concurrent = 500

[store]
# memory, sqlite3 or postgres; sqlite3 defaults to predictions.db in this directory
driver = "sqlite3"
dsn = ""
max_open_conns = 10
max_idle_conns = 5
conn_max_lifetime = "1h"

[cache]
# memory, redis or none
backend = "memory"
addr = "localhost:6379"
password = ""
db = 0
prefix = "assistant"
fundamentals_ttl = "300s"
sentiment_ttl = "1800s"

[events]
# none, kafka or audit (JSON lines under audit/ in this directory)
backend = "none"

[events.kafka]
brokers = []
topic = "predictions"
required_acks = -1
compression = "gzip"
max_attempts = 3
write_timeout = "10s"
batch_timeout = "1s"

[events.audit]
path = ""
max_size = 50
max_backups = 30
max_age = 365
compress = true

[providers]
# static (JSON fixture) or http (market data service)
source = "static"
fixture_path = ""
base_url = ""
api_key = ""
timeout = "10s"
lookback = 200
sentiment_window = "72h"

[providers.breaker]
failure_threshold = 5
success_threshold = 2
open_timeout = "30s"

[providers.retry]
max_attempts = 3
initial_delay = "100ms"
max_delay = "2s"
backoff_factor = 2.0

[server]
host = "127.0.0.1"
port = 8080
read_timeout = "10s"
write_timeout = "60s"
shutdown_timeout = "10s"
cors = false

[scheduler]
enabled = false
# Cron specs with a leading seconds field
verify_spec = "0 */15 * * * *"
scan_spec = ""
watchlist = []

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
file_path = ""
max_size = 100
max_backups = 7
max_age = 30
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
