// Package config loads the atlas configuration from file and environment
// and owns global logger setup. Every recognised key has a default so
// environment-only values survive Unmarshal.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
	Cache          CacheConfig          `yaml:"cache" mapstructure:"cache"`
	Analysis       AnalysisConfig       `yaml:"analysis" mapstructure:"analysis"`
	Reconcile      ReconcileConfig      `yaml:"reconcile" mapstructure:"reconcile"`
	Learner        LearnerConfig        `yaml:"learner" mapstructure:"learner"`
	Monitoring     MonitoringConfig     `yaml:"monitoring" mapstructure:"monitoring"`
	Resilience     ResilienceConfig     `yaml:"resilience" mapstructure:"resilience"`
	OpenRouter     OpenRouterConfig     `yaml:"openrouter" mapstructure:"openrouter"`
	Anthropic      AnthropicConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity     PerplexityConfig     `yaml:"perplexity" mapstructure:"perplexity"`
	Groq           GroqConfig           `yaml:"groq" mapstructure:"groq"`
	Clearbit       ClearbitConfig       `yaml:"clearbit" mapstructure:"clearbit"`
	Places         PlacesConfig         `yaml:"places" mapstructure:"places"`
	LinkedIn       LinkedInConfig       `yaml:"linkedin" mapstructure:"linkedin"`
	OpenCorporates OpenCorporatesConfig `yaml:"opencorporates" mapstructure:"opencorporates"`
	Geocode        GeocodeConfig        `yaml:"geocode" mapstructure:"geocode"`
	Fetcher        FetcherConfig        `yaml:"fetcher" mapstructure:"fetcher"`
}

// StoreConfig configures the session-store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RedisConfig holds the optional hot-tier Redis backing. An empty Addr
// keeps the hot tier in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// CacheConfig sets tier sizes and lifetimes. An empty ColdDir disables the
// cold blob tier. The PDF and dashboard TTLs are reserved for surfaces that
// render from the report cache; nothing reads them yet.
type CacheConfig struct {
	Redis            RedisConfig `yaml:"redis" mapstructure:"redis"`
	ColdDir          string      `yaml:"cold_dir" mapstructure:"cold_dir"`
	HotMaxEntries    int         `yaml:"hot_max_entries" mapstructure:"hot_max_entries"`
	HotTTLMinutes    int         `yaml:"hot_ttl_minutes" mapstructure:"hot_ttl_minutes"`
	StageTTLHours    int         `yaml:"stage_ttl_hours" mapstructure:"stage_ttl_hours"`
	ReportTTLHours   int         `yaml:"report_ttl_hours" mapstructure:"report_ttl_hours"`
	PDFTTLHours      int         `yaml:"pdf_ttl_hours" mapstructure:"pdf_ttl_hours"`
	DashboardTTLSecs int         `yaml:"dashboard_ttl_secs" mapstructure:"dashboard_ttl_secs"`
}

// AnalysisConfig bounds one analysis run and the source fan-out.
type AnalysisConfig struct {
	TimeoutSeconds        int  `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxConcurrentAnalyses int  `yaml:"max_concurrent_analyses" mapstructure:"max_concurrent_analyses"`
	GatherDeadlineSeconds int  `yaml:"gather_deadline_seconds" mapstructure:"gather_deadline_seconds"`
	IncludePaidSources    bool `yaml:"include_paid_sources" mapstructure:"include_paid_sources"`
	IncludePremiumSources bool `yaml:"include_premium_sources" mapstructure:"include_premium_sources"`
	// EnglishGiveawayThreshold tunes the stage-5 language guard: replies
	// with more English function-word hits than this are rerun.
	EnglishGiveawayThreshold int `yaml:"english_giveaway_threshold" mapstructure:"english_giveaway_threshold"`
}

// ReconcileConfig points at an optional trust-table override file.
type ReconcileConfig struct {
	TrustPath string `yaml:"trust_path" mapstructure:"trust_path"`
}

// LearnerConfig sets the trust-refresh window and volume floor.
type LearnerConfig struct {
	WindowDays     int `yaml:"window_days" mapstructure:"window_days"`
	MinSuggestions int `yaml:"min_suggestions" mapstructure:"min_suggestions"`
}

// MonitoringConfig configures alert thresholds and the background checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ResilienceConfig tunes the shared circuit breakers and the retry policy
// for outbound HTTP and LLM calls. Values at or below zero keep the
// built-in defaults.
type ResilienceConfig struct {
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	RetryMaxAttempts        int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier         float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitter             float64 `yaml:"retry_jitter" mapstructure:"retry_jitter"`
}

// OpenRouterConfig holds the model-relay credentials. Referer and Title go
// out as app attribution headers.
type OpenRouterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Referer string `yaml:"referer" mapstructure:"referer"`
	Title   string `yaml:"title" mapstructure:"title"`
}

// AnthropicConfig holds the optional first-party key. When set, claude-class
// models bypass the relay.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// PerplexityConfig holds the stage-2 research provider settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GroqConfig holds the free-inference source settings.
type GroqConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ClearbitConfig holds the paid firmographics source key.
type ClearbitConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// PlacesConfig holds the Google Places source key.
type PlacesConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// LinkedInConfig holds the LinkedIn proxy source key.
type LinkedInConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// OpenCorporatesConfig holds the optional registry API token. The source
// works unauthenticated at a lower rate limit.
type OpenCorporatesConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// GeocodeConfig configures the forward-geocoding cascade.
type GeocodeConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	OpenCageKey string `yaml:"opencage_key" mapstructure:"opencage_key"`
}

// FetcherConfig bounds the site-metadata page fetcher.
type FetcherConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
	HostBurst   int     `yaml:"host_burst" mapstructure:"host_burst"`
}

// Load reads configuration from atlas.yaml and the ATLAS_* environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("atlas")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default empty, which also registers the key so the
	// environment variant is picked up.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "atlas.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.cold_dir", "")
	v.SetDefault("cache.hot_max_entries", 4096)
	v.SetDefault("cache.hot_ttl_minutes", 60)
	v.SetDefault("cache.stage_ttl_hours", 168)
	v.SetDefault("cache.report_ttl_hours", 720)
	v.SetDefault("cache.pdf_ttl_hours", 2160)
	v.SetDefault("cache.dashboard_ttl_secs", 300)
	v.SetDefault("analysis.timeout_seconds", 300)
	v.SetDefault("analysis.max_concurrent_analyses", 10)
	v.SetDefault("analysis.gather_deadline_seconds", 120)
	v.SetDefault("analysis.include_paid_sources", false)
	v.SetDefault("analysis.include_premium_sources", false)
	v.SetDefault("analysis.english_giveaway_threshold", 8)
	v.SetDefault("reconcile.trust_path", "")
	v.SetDefault("learner.window_days", 30)
	v.SetDefault("learner.min_suggestions", 10)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("resilience.breaker_failure_threshold", 5)
	v.SetDefault("resilience.breaker_reset_secs", 30)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_initial_backoff_ms", 2000)
	v.SetDefault("resilience.retry_max_backoff_ms", 10000)
	v.SetDefault("resilience.retry_multiplier", 2.0)
	v.SetDefault("resilience.retry_jitter", 0.25)
	v.SetDefault("openrouter.key", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.referer", "https://atlas.horizonte.ai")
	v.SetDefault("openrouter.title", "Atlas")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("groq.key", "")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("clearbit.key", "")
	v.SetDefault("places.key", "")
	v.SetDefault("linkedin.key", "")
	v.SetDefault("opencorporates.token", "")
	v.SetDefault("geocode.user_agent", "atlas/1.0 (+https://atlas.horizonte.ai/bot)")
	v.SetDefault("geocode.opencage_key", "")
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.timeout_secs", 10)
	v.SetDefault("fetcher.host_rate", 2.0)
	v.SetDefault("fetcher.host_burst", 4)

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

// Validate checks the configuration for the given command mode. Modes:
// "analyse" and "serve" require LLM credentials; "maintenance" covers the
// commands that only touch the store. Problems are collected so one run
// reports every missing key.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Analysis.MaxConcurrentAnalyses < 1 || c.Analysis.MaxConcurrentAnalyses > 100 {
		problems = append(problems, "analysis.max_concurrent_analyses must be between 1 and 100")
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		problems = append(problems, "analysis.timeout_seconds must be > 0")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		problems = append(problems, "monitoring.failure_rate_threshold must be within [0, 1]")
	}

	switch mode {
	case "analyse":
		if c.OpenRouter.Key == "" {
			problems = append(problems, "openrouter.key is required (set ATLAS_OPENROUTER_KEY)")
		}
	case "serve":
		if c.OpenRouter.Key == "" {
			problems = append(problems, "openrouter.key is required (set ATLAS_OPENROUTER_KEY)")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and < 65536")
		}
	case "maintenance":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
