// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/shortlink-edge/internal/storage/local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Cron        CronConfig        `mapstructure:"cron"`
	Edge        EdgeConfig        `mapstructure:"edge"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Storage     StorageConfig     `mapstructure:"storage"`
	RequestLog  RequestLogConfig  `mapstructure:"request_log"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// ApplicationConfig describes the running service for tracing resources.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicURL is the externally reachable base URL. When set, signed cron
	// requests must name it as their destination.
	PublicURL        string        `mapstructure:"public_url"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	WaitUntilTimeout time.Duration `mapstructure:"wait_until_timeout"`
	// RateLimitRPS caps requests per second per client IP. Zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CronConfig holds the secrets used to authenticate cron invocations.
type CronConfig struct {
	// Disabled short-circuits every cron route. It is also bound to VERCEL so
	// platform build steps never run jobs.
	Disabled          bool          `mapstructure:"disabled"`
	CurrentSigningKey string        `mapstructure:"current_signing_key"`
	NextSigningKey    string        `mapstructure:"next_signing_key"`
	Secret            string        `mapstructure:"secret"`
	ClockSkew         time.Duration `mapstructure:"clock_skew"`
}

// EdgeConfig drives request classification in the edge middleware.
type EdgeConfig struct {
	AppHostnames     []string          `mapstructure:"app_hostnames"`
	APIHostnames     []string          `mapstructure:"api_hostnames"`
	ShortDomain      string            `mapstructure:"short_domain"`
	DefaultRedirects map[string]string `mapstructure:"default_redirects"`
	WellKnownFiles   []string          `mapstructure:"well_known_files"`
}

// UpstreamConfig names the services the edge delegates to.
type UpstreamConfig struct {
	AppURL      string `mapstructure:"app_url"`
	APIURL      string `mapstructure:"api_url"`
	FallbackURL string `mapstructure:"fallback_url"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig controls the link cache.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LinkTTL time.Duration `mapstructure:"link_ttl"`
}

// PubSubConfig holds the topics used to hand work to downstream workers.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	ImportsTopic string `mapstructure:"imports_topic"`
	PayoutsTopic string `mapstructure:"payouts_topic"`
	LogsTopic    string `mapstructure:"logs_topic"`
}

// StorageConfig selects the blob backend serving well-known files.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Bucket  string       `mapstructure:"bucket"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
}

// RequestLogConfig tunes the request log hub and its remote sink.
type RequestLogConfig struct {
	Dataset        string `mapstructure:"dataset"`
	BufferSize     int    `mapstructure:"buffer_size"`
	MaxBatchEvents int    `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int    `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int    `mapstructure:"sink_timeout_ms"`
}

// SchedulerConfig enables the in-process cron trigger.
type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	AggregateSpec string `mapstructure:"aggregate_spec"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHORTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("cron.disabled", "SHORTLINK_CRON_DISABLED", "VERCEL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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
	v.SetDefault("application.service_name", "shortlink-edge")
	v.SetDefault("application.version", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.wait_until_timeout", "15s")
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("cron.clock_skew", "5s")
	v.SetDefault("edge.app_hostnames", []string{"app.dub.co", "preview.dub.co", "app.localhost:8888"})
	v.SetDefault("edge.api_hostnames", []string{"api.dub.co", "api-staging.dub.co", "api.localhost:8888"})
	v.SetDefault("edge.short_domain", "dub.sh")
	v.SetDefault("edge.default_redirects", map[string]string{
		"home":      "https://dub.co",
		"dub":       "https://dub.co",
		"signin":    "https://app.dub.co/login",
		"login":     "https://app.dub.co/login",
		"register":  "https://app.dub.co/register",
		"signup":    "https://app.dub.co/register",
		"app":       "https://app.dub.co",
		"dashboard": "https://app.dub.co",
		"links":     "https://app.dub.co/links",
		"settings":  "https://app.dub.co/settings",
		"welcome":   "https://app.dub.co/welcome",
		"discord":   "https://twitter.com/dubdotco",
	})
	v.SetDefault("edge.well_known_files", []string{"apple-app-site-association", "assetlinks.json"})
	v.SetDefault("upstream.fallback_url", "https://dub.co")
	v.SetDefault("redis.link_ttl", "24h")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "wellknown")
	v.SetDefault("request_log.buffer_size", 4096)
	v.SetDefault("request_log.max_batch_events", 500)
	v.SetDefault("request_log.max_batch_wait_ms", 500)
	v.SetDefault("request_log.sink_timeout_ms", 5000)
	v.SetDefault("scheduler.aggregate_spec", "0 * * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0")
	}
	if strings.TrimSpace(c.Edge.ShortDomain) == "" {
		return fmt.Errorf("edge.short_domain is required")
	}
	apps := make(map[string]struct{}, len(c.Edge.AppHostnames))
	for _, host := range c.Edge.AppHostnames {
		apps[strings.ToLower(host)] = struct{}{}
	}
	for _, host := range c.Edge.APIHostnames {
		if _, ok := apps[strings.ToLower(host)]; ok {
			return fmt.Errorf("edge.api_hostnames overlaps edge.app_hostnames on %q", host)
		}
	}
	for key, target := range c.Edge.DefaultRedirects {
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("edge.default_redirects[%s] must be an absolute URL", key)
		}
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Scheduler.Enabled {
		if c.Cron.Secret == "" {
			return fmt.Errorf("cron.secret must be set when the scheduler is enabled")
		}
		if c.Scheduler.AggregateSpec == "" {
			return fmt.Errorf("scheduler.aggregate_spec must be set when the scheduler is enabled")
		}
	}
	return nil
}

// SchedulerBaseURL returns the URL the scheduler calls back into.
func (c Config) SchedulerBaseURL() string {
	if c.Scheduler.BaseURL != "" {
		return strings.TrimRight(c.Scheduler.BaseURL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
}

// RemoteLogsEnabled reports whether request logs ship to the logs topic.
func (c Config) RemoteLogsEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.LogsTopic != "" && c.RequestLog.Dataset != ""
}
