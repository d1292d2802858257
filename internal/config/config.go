// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`

	// Stores is the roster of store contexts to crawl; each gets its own
	// session lane.
	Stores []StoreConfig `mapstructure:"stores"`
	// CategoryURLs is the raw category URL pool, duplicates included.
	CategoryURLs []string `mapstructure:"category_urls"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlConfig governs scheduler behavior.
type CrawlConfig struct {
	MaxParallelStores  int           `mapstructure:"max_parallel_stores"`
	MaxRetries         int           `mapstructure:"max_retries"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
}

// PlannerConfig governs the coverage sampling pass.
type PlannerConfig struct {
	SamplePages       int     `mapstructure:"sample_pages"`
	SampleParallelism int     `mapstructure:"sample_parallelism"`
	ProbeStore        string  `mapstructure:"probe_store"`
	TargetCoverage    float64 `mapstructure:"target_coverage"`
}

// FetchConfig selects the fetch backend and the extraction contract.
type FetchConfig struct {
	// Mode is one of headless, static, or synthetic.
	Mode              string        `mapstructure:"mode"`
	UserAgent         string        `mapstructure:"user_agent"`
	StoreParam        string        `mapstructure:"store_param"`
	PageParam         string        `mapstructure:"page_param"`
	TileSelector      string        `mapstructure:"tile_selector"`
	ProductIDAttr     string        `mapstructure:"product_id_attr"`
	TitleSelector     string        `mapstructure:"title_selector"`
	PriceSelector     string        `mapstructure:"price_selector"`
	LinkSelector      string        `mapstructure:"link_selector"`
	NextPageSelector  string        `mapstructure:"next_page_selector"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// CheckpointConfig selects the checkpoint persistence provider.
type CheckpointConfig struct {
	// Provider is one of memory, file, or postgres.
	Provider     string `mapstructure:"provider"`
	Dir          string `mapstructure:"dir"`
	DSN          string `mapstructure:"dsn"`
	CompactEvery int    `mapstructure:"compact_every"`
}

// ArchiveConfig selects where raw page payloads land. An empty provider
// disables archiving.
type ArchiveConfig struct {
	// Provider is one of memory, local, or gcs; empty disables archiving.
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for run event notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StoreConfig describes one store context.
type StoreConfig struct {
	ID     string `mapstructure:"id"`
	Region string `mapstructure:"region"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawl.max_parallel_stores", 4)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.min_request_interval", "2s")
	v.SetDefault("crawl.fetch_timeout", "60s")
	v.SetDefault("crawl.checkpoint_interval", "10s")
	v.SetDefault("crawl.backoff_base", "500ms")
	v.SetDefault("crawl.backoff_max", "30s")
	v.SetDefault("planner.sample_pages", 2)
	v.SetDefault("planner.sample_parallelism", 4)
	v.SetDefault("planner.target_coverage", 0.95)
	v.SetDefault("fetch.mode", "headless")
	v.SetDefault("fetch.user_agent", "retailscout-catalog-crawler/1.0")
	v.SetDefault("fetch.navigation_timeout", "45s")
	v.SetDefault("checkpoint.provider", "file")
	v.SetDefault("checkpoint.dir", "data/checkpoints")
	v.SetDefault("checkpoint.compact_every", 64)
	v.SetDefault("archive.provider", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.MaxParallelStores <= 0 {
		return fmt.Errorf("crawl.max_parallel_stores must be > 0")
	}
	if c.Crawl.MaxRetries < 0 {
		return fmt.Errorf("crawl.max_retries must be >= 0")
	}
	if c.Planner.TargetCoverage <= 0 || c.Planner.TargetCoverage > 1 {
		return fmt.Errorf("planner.target_coverage must be in (0, 1]")
	}
	switch c.Fetch.Mode {
	case "headless", "static", "synthetic":
	default:
		return fmt.Errorf("fetch.mode must be headless, static, or synthetic")
	}
	switch c.Checkpoint.Provider {
	case "memory":
	case "file":
		if c.Checkpoint.Dir == "" {
			return fmt.Errorf("checkpoint.dir must be set for the file provider")
		}
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("checkpoint.provider must be memory, file, or postgres")
	}
	switch c.Archive.Provider {
	case "", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local provider")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider must be empty, memory, local, or gcs")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	return nil
}
