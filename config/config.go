package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"klinecollector/pkg/kline"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"` // "dev" or "prod"
	Log         LogConfig        `mapstructure:"log"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
	Live        LiveConfig       `mapstructure:"live"`
	Collect     CollectConfig    `mapstructure:"collect"`
	Local       LocalConfig      `mapstructure:"local"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
}

// ArchiveConfig is the bulk archive CDN.
type ArchiveConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"` // per archive download
	Workers        int           `mapstructure:"workers"` // concurrent downloads across all streams
	DailyWindow    time.Duration `mapstructure:"daily_window"`
	VerifyChecksum bool          `mapstructure:"verify_checksum"`
}

// LiveConfig is the REST API used for backfill, discovery and funding.
type LiveConfig struct {
	SpotURL           string        `mapstructure:"spot_url"`
	USDMURL           string        `mapstructure:"usdm_url"`
	CoinMURL          string        `mapstructure:"coinm_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	PageSize          int           `mapstructure:"page_size"`
	MaxRetries        uint64        `mapstructure:"max_retries"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
}

type CollectConfig struct {
	Market        string        `mapstructure:"market"`
	Symbols       []string      `mapstructure:"symbols"` // empty: discover by quote asset
	Quote         string        `mapstructure:"quote"`
	Timeframes    []string      `mapstructure:"timeframes"`
	Start         string        `mapstructure:"start"` // YYYY-MM-DD or RFC 3339
	End           string        `mapstructure:"end"`   // empty: now
	StreamWorkers int           `mapstructure:"stream_workers"`
	Funding       bool          `mapstructure:"funding"`
	PublishDelay  time.Duration `mapstructure:"publish_delay"` // wait after midnight in daily mode
}

type LocalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Backups int    `mapstructure:"backups"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"market":     "collect.market",
	"symbols":    "collect.symbols",
	"quote":      "collect.quote",
	"timeframes": "collect.timeframes",
	"start":      "collect.start",
	"end":        "collect.end",
	"funding":    "collect.funding",
	"local":      "local.enabled",
	"local-dir":  "local.dir",
	"clickhouse": "clickhouse.enabled",
	"log-level":  "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "")

	v.SetDefault("archive.base_url", "https://data.binance.vision")
	v.SetDefault("archive.timeout", 2*time.Minute)
	v.SetDefault("archive.workers", 8)
	v.SetDefault("archive.daily_window", 30*24*time.Hour)
	v.SetDefault("archive.verify_checksum", true)

	v.SetDefault("live.spot_url", "https://api.binance.com")
	v.SetDefault("live.usdm_url", "https://fapi.binance.com")
	v.SetDefault("live.coinm_url", "https://dapi.binance.com")
	v.SetDefault("live.api_key", "")
	v.SetDefault("live.timeout", 10*time.Second)
	v.SetDefault("live.concurrency", 2)
	v.SetDefault("live.requests_per_minute", 600)
	v.SetDefault("live.page_size", 1000)
	v.SetDefault("live.max_retries", 3)
	v.SetDefault("live.retry_interval", 500*time.Millisecond)

	v.SetDefault("collect.market", "spot")
	v.SetDefault("collect.symbols", []string{})
	v.SetDefault("collect.quote", "USDT")
	v.SetDefault("collect.timeframes", []string{"1h"})
	v.SetDefault("collect.start", "")
	v.SetDefault("collect.end", "")
	v.SetDefault("collect.stream_workers", 4)
	v.SetDefault("collect.funding", false)
	v.SetDefault("collect.publish_delay", 30*time.Minute)

	v.SetDefault("local.enabled", false)
	v.SetDefault("local.dir", "./data")
	v.SetDefault("local.backups", 3)

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addrs", []string{"localhost:9000"})
	v.SetDefault("clickhouse.database", "market")
	v.SetDefault("clickhouse.user", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.table", "klines")
	v.SetDefault("clickhouse.batch_size", 50000)
	v.SetDefault("clickhouse.dial_timeout", 5*time.Second)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "klinecollector")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
}

// Load loads application configuration using Viper.
// It reads path (or config.yaml from the usual locations when path is
// empty), then applies environment variables (e.g. CLICKHOUSE_PASSWORD,
// ARCHIVE_DAILY_WINDOW) and finally the given command line flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., LIVE_API_KEY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Log.Environment == "" {
		cfg.Log.Environment = cfg.Environment
	}
	return &cfg, nil
}

// MarketKind parses the configured market.
func (c *Config) MarketKind() (kline.Market, error) {
	return kline.ParseMarket(c.Collect.Market)
}

// Timeframes resolves the configured intervals against the catalog.
// Repeated intervals are returned once, in first-seen order.
func (c *Config) Timeframes(catalog *kline.Catalog) ([]kline.Timeframe, error) {
	out := make([]kline.Timeframe, 0, len(c.Collect.Timeframes))
	seen := make(map[kline.Interval]struct{})
	for _, s := range c.Collect.Timeframes {
		tf, err := catalog.Lookup(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tf.Interval]; dup {
			continue
		}
		seen[tf.Interval] = struct{}{}
		out = append(out, tf)
	}
	return out, nil
}

// Range parses the collection range. An empty end means now.
func (c *Config) Range(now time.Time) (time.Time, time.Time, error) {
	if c.Collect.Start == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("collect.start is required")
	}
	start, err := parseTime(c.Collect.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("collect.start: %w", err)
	}
	end := now.UTC()
	if c.Collect.End != "" {
		if end, err = parseTime(c.Collect.End); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("collect.end: %w", err)
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("collect.end %s is not after collect.start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, want YYYY-MM-DD or RFC 3339", s)
}

// Validate checks the settings a run cannot start without. The range is
// checked separately by Range, since daily mode does not use it.
func (c *Config) Validate(catalog *kline.Catalog) error {
	var errs []error

	market, err := c.MarketKind()
	if err != nil {
		errs = append(errs, err)
	}
	tfs, err := c.Timeframes(catalog)
	if err != nil {
		errs = append(errs, err)
	}
	if len(c.Collect.Timeframes) == 0 {
		errs = append(errs, fmt.Errorf("collect.timeframes is empty"))
	}
	if market != 0 {
		for _, tf := range tfs {
			if !market.Supports(tf) {
				errs = append(errs, fmt.Errorf("timeframe %s is not published for %s", tf, market))
			}
		}
		if c.Collect.Funding && !market.IsDerivative() {
			errs = append(errs, fmt.Errorf("collect.funding requires a derivative market, got %s", market))
		}
	}
	if len(c.Collect.Symbols) == 0 && c.Collect.Quote == "" {
		errs = append(errs, fmt.Errorf("either collect.symbols or collect.quote must be set"))
	}

	positive := map[string]int{
		"archive.workers":        c.Archive.Workers,
		"live.concurrency":       c.Live.Concurrency,
		"live.page_size":         c.Live.PageSize,
		"collect.stream_workers": c.Collect.StreamWorkers,
	}
	for key, n := range positive {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, n))
		}
	}
	if c.Archive.DailyWindow <= 0 {
		errs = append(errs, fmt.Errorf("archive.daily_window must be positive"))
	}
	if c.Local.Enabled && c.Local.Dir == "" {
		errs = append(errs, fmt.Errorf("local.dir is required when local output is enabled"))
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addrs) == 0 {
		errs = append(errs, fmt.Errorf("clickhouse.addrs is required when clickhouse is enabled"))
	}
	switch c.Environment {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("environment must be dev or prod, got %q", c.Environment))
	}

	return errors.Join(errs...)
}
