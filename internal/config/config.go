// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fb-crawler/internal/storage/local"
)

// Credential sources.
const (
	CredentialsSecretManager = "secretmanager"
	CredentialsKeyring       = "keyring"
	CredentialsStatic        = "static"
)

// Storage backends.
const (
	StorageGCS    = "gcs"
	StorageLocal  = "local"
	StorageMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Apify       ApifyConfig       `mapstructure:"apify"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one crawl request. Zero disables the limit.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlConfig governs batching and per-attempt limits.
type CrawlConfig struct {
	DefaultBatchSize int           `mapstructure:"default_batch_size"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	OriginFields     []string      `mapstructure:"origin_fields"`
}

// ApifyConfig selects the scraping actors.
type ApifyConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	ProfileActor     string        `mapstructure:"profile_actor"`
	PostActor        string        `mapstructure:"post_actor"`
	PostResultsLimit int           `mapstructure:"post_results_limit"`
	WaitForFinish    time.Duration `mapstructure:"wait_for_finish"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	// SubmitRPS paces run starts per API key. Zero disables pacing.
	SubmitRPS   float64 `mapstructure:"submit_rps"`
	SubmitBurst int     `mapstructure:"submit_burst"`
}

// CredentialsConfig says where API keys come from.
type CredentialsConfig struct {
	Source         string   `mapstructure:"source"`
	Keys           []string `mapstructure:"keys"`
	ProjectID      string   `mapstructure:"project_id"`
	SecretID       string   `mapstructure:"secret_id"`
	SecretVersion  string   `mapstructure:"secret_version"`
	KeyringService string   `mapstructure:"keyring_service"`
	KeyringUser    string   `mapstructure:"keyring_user"`
}

// StorageConfig sets where result files are written.
type StorageConfig struct {
	Backend       string       `mapstructure:"backend"`
	ProfileBucket string       `mapstructure:"profile_bucket"`
	PostBucket    string       `mapstructure:"post_bucket"`
	Prefix        string       `mapstructure:"prefix"`
	Timezone      string       `mapstructure:"timezone"`
	CacheControl  string       `mapstructure:"cache_control"`
	Local         local.Config `mapstructure:"local"`
}

// DatabaseConfig controls the run store. An empty DSN keeps runs in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PubSubConfig holds completion notification settings. Publishing is off
// unless both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig tunes trace sampling.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FBCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", "FBCRAWLER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

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
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "55m")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("crawl.default_batch_size", 2)
	v.SetDefault("crawl.attempt_timeout", "10m")
	v.SetDefault("crawl.origin_fields", []string{"url", "inputUrl", "facebookUrl"})
	v.SetDefault("apify.base_url", "https://api.apify.com")
	v.SetDefault("apify.profile_actor", "4Hv5RhChiaDk6iwad")
	v.SetDefault("apify.post_actor", "apify/facebook-posts-scraper")
	v.SetDefault("apify.post_results_limit", 0)
	v.SetDefault("apify.wait_for_finish", "60s")
	v.SetDefault("apify.poll_interval", "1s")
	v.SetDefault("apify.submit_rps", 2.0)
	v.SetDefault("apify.submit_burst", 4)
	v.SetDefault("credentials.source", CredentialsStatic)
	v.SetDefault("credentials.keys", []string{})
	v.SetDefault("credentials.project_id", "")
	v.SetDefault("credentials.secret_id", "")
	v.SetDefault("credentials.secret_version", "latest")
	v.SetDefault("credentials.keyring_service", "fb-crawler")
	v.SetDefault("credentials.keyring_user", "apify")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.profile_bucket", "influencer-profile")
	v.SetDefault("storage.post_bucket", "influencer-post")
	v.SetDefault("storage.prefix", "facebook")
	v.SetDefault("storage.timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "crawl_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.service_name", "fb-crawler")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.DefaultBatchSize <= 0 {
		return fmt.Errorf("crawl.default_batch_size must be > 0")
	}
	if c.Crawl.AttemptTimeout < 0 {
		return fmt.Errorf("crawl.attempt_timeout must not be negative")
	}
	if c.Apify.ProfileActor == "" && c.Apify.PostActor == "" {
		return fmt.Errorf("at least one of apify.profile_actor or apify.post_actor is required")
	}
	if err := c.Credentials.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (c CredentialsConfig) validate() error {
	switch c.Source {
	case CredentialsSecretManager:
		if c.ProjectID == "" || c.SecretID == "" {
			return fmt.Errorf("credentials.project_id and credentials.secret_id are required for secretmanager")
		}
	case CredentialsKeyring:
		if c.KeyringService == "" || c.KeyringUser == "" {
			return fmt.Errorf("credentials.keyring_service and credentials.keyring_user are required for keyring")
		}
	case CredentialsStatic:
	default:
		return fmt.Errorf("unknown credentials.source %q", c.Source)
	}
	return nil
}

func (c StorageConfig) validate() error {
	switch c.Backend {
	case StorageGCS:
		if c.ProfileBucket == "" || c.PostBucket == "" {
			return fmt.Errorf("storage.profile_bucket and storage.post_bucket are required for gcs")
		}
	case StorageLocal:
		if c.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for local storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Backend)
	}
	return nil
}

// PublishEnabled reports whether completion notifications go to Pub/Sub.
func (c Config) PublishEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
