// Package config loads and validates listcrawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// LISTCRAWLER_REDIS_ADDR=redis:6379.
const EnvPrefix = "LISTCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RedisConfig locates the Redis server backing the queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects and tunes the work queue.
type QueueConfig struct {
	// Backend is "redis" or "memory".
	Backend     string        `mapstructure:"backend"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// CrawlerConfig governs the worker pool and session defaults.
type CrawlerConfig struct {
	Workers         int           `mapstructure:"workers"`
	MaxPage         int           `mapstructure:"max_page"`
	Partitions      []string      `mapstructure:"partitions"`
	URLTemplate     string        `mapstructure:"url_template"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DownloaderConfig controls fetch concurrency and the transport.
type DownloaderConfig struct {
	// Engine is "http" (colly), "headless" (chromedp) or "auto", which
	// re-fetches script-rendered pages through chromedp.
	Engine        string        `mapstructure:"engine"`
	Concurrency   int           `mapstructure:"concurrency"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	// PromoteThreshold is the body size under which script-heavy pages are
	// promoted in auto mode.
	PromoteThreshold int `mapstructure:"promote_threshold"`
}

// RateLimitConfig sets per-host token buckets.
type RateLimitConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	RPS     float64     `mapstructure:"rps"`
	Burst   int         `mapstructure:"burst"`
	Hosts   []HostLimit `mapstructure:"hosts"`
}

// HostLimit overrides the request rate for one host.
type HostLimit struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HostRates returns the overrides keyed by host.
func (c RateLimitConfig) HostRates() map[string]float64 {
	out := make(map[string]float64, len(c.Hosts))
	for _, h := range c.Hosts {
		out[h.Host] = h.RPS
	}
	return out
}

// KafkaConfig configures the export topic.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Critical     bool          `mapstructure:"critical"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	GroupID      string        `mapstructure:"group_id"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// PostgresConfig controls the item table.
type PostgresConfig struct {
	// Enabled adds the store stage to the crawl pipeline. dbimport only
	// needs the DSN.
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	BatchSize       int           `mapstructure:"batch_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
}

// ArchiveConfig selects where items are archived as blobs.
type ArchiveConfig struct {
	// Backend is "", "local", "gcs" or "memory". Empty disables archiving.
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig tunes metric collection.
type MetricsConfig struct {
	QueueSizeInterval time.Duration `mapstructure:"queue_size_interval"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.key_prefix", "listcrawler")
	v.SetDefault("queue.poll_timeout", "1s")
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.max_page", 3)
	v.SetDefault("crawler.partitions", []string{"newyork", "sfbay", "chicago"})
	v.SetDefault("crawler.url_template", "https://{partition}.craigslist.org/")
	v.SetDefault("crawler.shutdown_timeout", "30s")
	v.SetDefault("downloader.engine", "http")
	v.SetDefault("downloader.concurrency", 3)
	v.SetDefault("downloader.timeout", "30s")
	v.SetDefault("downloader.user_agent", "listcrawler/1.0")
	v.SetDefault("downloader.respect_robots", false)
	v.SetDefault("downloader.settle_delay", "0s")
	v.SetDefault("downloader.promote_threshold", 2048)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 2.0)
	v.SetDefault("ratelimit.burst", 2)
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "items")
	v.SetDefault("kafka.critical", true)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.group_id", "listcrawler-dbimport")
	v.SetDefault("kafka.idle_timeout", "10s")
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.table", "items")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.batch_size", 100)
	v.SetDefault("postgres.flush_interval", "5s")
	v.SetDefault("archive.backend", "")
	v.SetDefault("archive.prefix", "items")
	v.SetDefault("archive.local_dir", "data/archive")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("metrics.queue_size_interval", "5s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Queue.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis queue"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q must be redis or memory", c.Queue.Backend))
	}
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.MaxPage < 0 {
		errs = append(errs, errors.New("crawler.max_page must be >= 0"))
	}
	if !strings.Contains(c.Crawler.URLTemplate, "{partition}") {
		errs = append(errs, errors.New("crawler.url_template must contain {partition}"))
	}
	switch c.Downloader.Engine {
	case "http", "headless", "auto":
	default:
		errs = append(errs, fmt.Errorf("downloader.engine %q must be http, headless or auto", c.Downloader.Engine))
	}
	if c.Downloader.Concurrency <= 0 {
		errs = append(errs, errors.New("downloader.concurrency must be > 0"))
	}
	if c.Downloader.Timeout <= 0 {
		errs = append(errs, errors.New("downloader.timeout must be > 0"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("ratelimit.rps must be > 0 when rate limiting is enabled"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic must be set when kafka is enabled"))
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn must be set when postgres is enabled"))
	}
	switch c.Archive.Backend {
	case "", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			errs = append(errs, errors.New("archive.local_dir is required for the local archive"))
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			errs = append(errs, errors.New("archive.gcs_bucket is required for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be local, gcs or memory", c.Archive.Backend))
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Metrics.QueueSizeInterval <= 0 {
		errs = append(errs, errors.New("metrics.queue_size_interval must be > 0"))
	}
	return errors.Join(errs...)
}
