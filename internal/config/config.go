// Package config loads application configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Browserless BrowserlessConfig `yaml:"browserless" mapstructure:"browserless"`
	Firecrawl   FirecrawlConfig   `yaml:"firecrawl" mapstructure:"firecrawl"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Extract     ExtractConfig     `yaml:"extract" mapstructure:"extract"`
	Quality     QualityConfig     `yaml:"quality" mapstructure:"quality"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds language-model API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the per-call deadline for model requests.
func (a AnthropicConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// BrowserlessConfig holds headless-rendering service settings.
type BrowserlessConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds managed-crawl service settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures the tier chain and capture cache.
type FetchConfig struct {
	DirectTimeoutSecs   int `yaml:"direct_timeout_secs" mapstructure:"direct_timeout_secs"`
	RenderedTimeoutSecs int `yaml:"rendered_timeout_secs" mapstructure:"rendered_timeout_secs"`
	ManagedTimeoutSecs  int `yaml:"managed_timeout_secs" mapstructure:"managed_timeout_secs"`
	MinContentLength    int `yaml:"min_content_length" mapstructure:"min_content_length"`
	TierAttempts        int `yaml:"tier_attempts" mapstructure:"tier_attempts"`
	CacheTTLHours       int `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// CacheTTL returns the capture cache TTL as a duration.
func (f FetchConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLHours) * time.Hour
}

// RateLimitConfig configures per-source admission control.
type RateLimitConfig struct {
	RequestsPerMinute  float64            `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst              int                `yaml:"burst" mapstructure:"burst"`
	AcquireTimeoutSecs int                `yaml:"acquire_timeout_secs" mapstructure:"acquire_timeout_secs"`
	PerSource          map[string]float64 `yaml:"per_source" mapstructure:"per_source"`
}

// AcquireTimeout returns the default token acquisition timeout.
func (r RateLimitConfig) AcquireTimeout() time.Duration {
	return time.Duration(r.AcquireTimeoutSecs) * time.Second
}

// ExtractConfig configures the structured extractor.
type ExtractConfig struct {
	TemplatesPath string `yaml:"templates_path" mapstructure:"templates_path"`
	Category      string `yaml:"category" mapstructure:"category"`
}

// QualityConfig configures scoring thresholds.
type QualityConfig struct {
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold" mapstructure:"auto_accept_threshold"`
	FieldThreshold      float64 `yaml:"field_threshold" mapstructure:"field_threshold"`
	MinDescriptionLen   int     `yaml:"min_description_len" mapstructure:"min_description_len"`
}

// PipelineConfig configures batch execution.
type PipelineConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	BatchDeadlineSecs int `yaml:"batch_deadline_secs" mapstructure:"batch_deadline_secs"`
}

// BatchDeadline returns the overall batch deadline, zero when unset.
func (p PipelineConfig) BatchDeadline() time.Duration {
	return time.Duration(p.BatchDeadlineSecs) * time.Second
}

// ServerConfig configures the HTTP submission surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures alert thresholds and webhook delivery.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	EscalationRateThreshold float64 `yaml:"escalation_rate_threshold" mapstructure:"escalation_rate_threshold"`
	FetchFailureThreshold   int     `yaml:"fetch_failure_threshold" mapstructure:"fetch_failure_threshold"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPECPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "specpipe.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.0)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("browserless.base_url", "https://chrome.browserless.io")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("fetch.direct_timeout_secs", 15)
	v.SetDefault("fetch.rendered_timeout_secs", 45)
	v.SetDefault("fetch.managed_timeout_secs", 90)
	v.SetDefault("fetch.min_content_length", 100)
	v.SetDefault("fetch.tier_attempts", 3)
	v.SetDefault("fetch.cache_ttl_hours", 24)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.acquire_timeout_secs", 30)
	v.SetDefault("extract.templates_path", "templates.yaml")
	v.SetDefault("extract.category", "default")
	v.SetDefault("quality.auto_accept_threshold", 0.8)
	v.SetDefault("quality.field_threshold", 0.6)
	v.SetDefault("quality.min_description_len", 10)
	v.SetDefault("pipeline.max_concurrent", 5)
	v.SetDefault("pipeline.batch_deadline_secs", 0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.escalation_rate_threshold", 0.75)
	v.SetDefault("monitoring.fetch_failure_threshold", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)

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
