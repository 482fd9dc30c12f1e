package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for every service in the repository.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Market   MarketConfig   `mapstructure:"market"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Control  ControlConfig  `mapstructure:"control"`
}

type AppConfig struct {
	Env string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level string `mapstructure:"level"` // debug | info | warn | error
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	MaxConns int    `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MarketConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ScraperConfig struct {
	BoardURL         string `mapstructure:"board_url"`
	Source           string `mapstructure:"source"`
	Prefix           string `mapstructure:"prefix"`
	SnapshotInterval int    `mapstructure:"snapshot_interval"` // seconds
	DryRun           bool   `mapstructure:"dry_run"`
	CacheMaxAge      int    `mapstructure:"cache_max_age"` // minutes, 0 disables the sweep
}

type PollerConfig struct {
	QuoteAPI       string  `mapstructure:"quote_api"`
	IndicesURL     string  `mapstructure:"indices_url"`
	Source         string  `mapstructure:"source"`
	Prefix         string  `mapstructure:"prefix"`
	Interval       int     `mapstructure:"interval"` // seconds
	ForceUSHours   bool    `mapstructure:"force_us_hours"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

type FetcherConfig struct {
	GroupEndpoint  string `mapstructure:"group_endpoint"` // templated; %s receives the group id
	BoardURL       string `mapstructure:"board_url"`
	HTTPTimeout    int    `mapstructure:"http_timeout"`    // seconds
	CaptureTimeout int    `mapstructure:"capture_timeout"` // seconds
}

type ControlConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"` // empty disables auth
}

// LoadConfig reads configuration from a .env file, environment variables, and
// defaults. Env vars win over the .env file, which wins over defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first so viper sees the values.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.env", "local")
	v.SetDefault("logger.level", "info")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "market")
	v.SetDefault("postgres.max_conns", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_quotes")

	v.SetDefault("market.timezone", "Asia/Ho_Chi_Minh")

	v.SetDefault("scraper.board_url", "https://iboard.ssi.com.vn/")
	v.SetDefault("scraper.source", "vnboard")
	v.SetDefault("scraper.prefix", "VN:")
	v.SetDefault("scraper.snapshot_interval", 15)
	v.SetDefault("scraper.dry_run", false)
	v.SetDefault("scraper.cache_max_age", 0)

	v.SetDefault("poller.quote_api", "https://query1.finance.yahoo.com/v7/finance/quote")
	v.SetDefault("poller.indices_url", "https://finance.yahoo.com/world-indices/")
	v.SetDefault("poller.source", "yahoo")
	v.SetDefault("poller.prefix", "US:")
	v.SetDefault("poller.interval", 15)
	v.SetDefault("poller.force_us_hours", false)
	v.SetDefault("poller.requests_per_sec", 2.0)

	v.SetDefault("fetcher.group_endpoint", "https://iboard-query.ssi.com.vn/stock/group/%s")
	v.SetDefault("fetcher.board_url", "https://iboard.ssi.com.vn/")
	v.SetDefault("fetcher.http_timeout", 10)
	v.SetDefault("fetcher.capture_timeout", 15)

	v.SetDefault("control.addr", ":8080")
	v.SetDefault("control.token", "")

	// Map dot-notation keys to underscore env vars (scraper.dry_run -> SCRAPER_DRY_RUN).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.env", "logger.level")
	bindEnv(v, "postgres.dsn", "postgres.user", "postgres.password", "postgres.host", "postgres.port", "postgres.database", "postgres.max_conns")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")
	bindEnv(v, "market.timezone")
	bindEnv(v, "scraper.board_url", "scraper.source", "scraper.prefix", "scraper.snapshot_interval", "scraper.dry_run", "scraper.cache_max_age")
	bindEnv(v, "poller.quote_api", "poller.indices_url", "poller.source", "poller.prefix", "poller.interval", "poller.force_us_hours", "poller.requests_per_sec")
	bindEnv(v, "fetcher.group_endpoint", "fetcher.board_url", "fetcher.http_timeout", "fetcher.capture_timeout")
	bindEnv(v, "control.addr", "control.token")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Scraper.SnapshotInterval <= 0 {
		return nil, fmt.Errorf("scraper.snapshot_interval must be positive")
	}
	if cfg.Poller.Interval <= 0 {
		return nil, fmt.Errorf("poller.interval must be positive")
	}

	return &cfg, nil
}

// URL composes a DSN from the individual fields when one is not provided
// directly.
func (c PostgresConfig) URL() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// SnapshotIntervalDuration returns the configured snapshot cadence.
func (c ScraperConfig) SnapshotIntervalDuration() time.Duration {
	return time.Duration(c.SnapshotInterval) * time.Second
}

// NewLogger builds the process logger from the logger section.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
