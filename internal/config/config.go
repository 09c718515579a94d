package config

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Voice        VoiceConfig        `yaml:"voice" mapstructure:"voice"`
	Google       GoogleConfig       `yaml:"google" mapstructure:"google"`
	Geocode      GeocodeConfig      `yaml:"geocode" mapstructure:"geocode"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Research     ResearchConfig     `yaml:"research" mapstructure:"research"`
	Enrich       EnrichConfig       `yaml:"enrich" mapstructure:"enrich"`
	Dispatch     DispatchConfig     `yaml:"dispatch" mapstructure:"dispatch"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared result cache.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// CacheConfig configures the call result cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"` // memory or redis
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// OrchestratorConfig configures the workflow orchestrator backend.
type OrchestratorConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Kind         string        `yaml:"kind" mapstructure:"kind"` // http or temporal
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	Token        string        `yaml:"token" mapstructure:"token"`
	Namespace    string        `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue    string        `yaml:"task_queue" mapstructure:"task_queue"`
	Strict       bool          `yaml:"strict" mapstructure:"strict"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	CallFlow     string        `yaml:"call_flow" mapstructure:"call_flow"`
	ResearchFlow string        `yaml:"research_flow" mapstructure:"research_flow"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls" mapstructure:"max_polls"`
}

// VoiceConfig holds call-automation vendor settings.
type VoiceConfig struct {
	Key                string        `yaml:"key" mapstructure:"key"`
	BaseURL            string        `yaml:"base_url" mapstructure:"base_url"`
	PhoneNumberID      string        `yaml:"phone_number_id" mapstructure:"phone_number_id"`
	AssistantID        string        `yaml:"assistant_id" mapstructure:"assistant_id"`
	ModelProvider      string        `yaml:"model_provider" mapstructure:"model_provider"`
	Model              string        `yaml:"model" mapstructure:"model"`
	ServerURL          string        `yaml:"server_url" mapstructure:"server_url"`
	MaxDurationSeconds int           `yaml:"max_duration_seconds" mapstructure:"max_duration_seconds"`
	PollInterval       time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxPolls           int           `yaml:"max_polls" mapstructure:"max_polls"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeocodeConfig controls origin lookup for requests without coordinates.
// The Google geocoder reuses google.key.
type GeocodeConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ResearchConfig bounds provider searches.
type ResearchConfig struct {
	MaxResults  int     `yaml:"max_results" mapstructure:"max_results"`
	MinResults  int     `yaml:"min_results" mapstructure:"min_results"`
	RadiusMiles float64 `yaml:"radius_miles" mapstructure:"radius_miles"`
}

// EnrichConfig configures the enrichment pipeline.
type EnrichConfig struct {
	MinWithPhone int           `yaml:"min_with_phone" mapstructure:"min_with_phone"`
	MaxToEnrich  int           `yaml:"max_to_enrich" mapstructure:"max_to_enrich"`
	RequirePhone bool          `yaml:"require_phone" mapstructure:"require_phone"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelay   time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
	RatePerSec   float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst        int           `yaml:"burst" mapstructure:"burst"`
}

// MaxConcurrentLimit caps the dispatch window size.
const MaxConcurrentLimit = 50

// DispatchConfig configures the call dispatcher.
type DispatchConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	WindowDelay   time.Duration `yaml:"window_delay" mapstructure:"window_delay"`
}

// ScoringConfig configures recommendation scoring.
type ScoringConfig struct {
	Weights model.ScoringWeights `yaml:"weights" mapstructure:"weights"`
}

// RetryConfig configures the dead letter queue of failed requests. A zero
// Interval disables the background retry loop in serve.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	BatchSize   int           `yaml:"batch_size" mapstructure:"batch_size"`
}

// NotifyConfig configures outbound request notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Token      string `yaml:"token" mapstructure:"token"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CallErrorRateThreshold float64 `yaml:"call_error_rate_threshold" mapstructure:"call_error_rate_threshold"`
	StuckAfterMinutes      int     `yaml:"stuck_after_minutes" mapstructure:"stuck_after_minutes"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	AlertCooldownMinutes   int     `yaml:"alert_cooldown_minutes" mapstructure:"alert_cooldown_minutes"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml (optional) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	w := model.DefaultScoringWeights()

	// Keys without a meaningful default are still registered so that
	// AutomaticEnv picks them up during Unmarshal.
	for _, key := range []string{
		"redis.addr", "redis.password",
		"orchestrator.endpoint", "orchestrator.token",
		"voice.key", "voice.phone_number_id", "voice.assistant_id", "voice.server_url",
		"google.key", "anthropic.key", "anthropic.base_url",
		"notify.webhook_url", "notify.token",
	} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{
		"orchestrator.enabled", "orchestrator.strict", "enrich.require_phone", "monitoring.enabled",
	} {
		v.SetDefault(key, false)
	}
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.key_prefix", "outreach:call:")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("cache.sweep_interval", 5*time.Minute)
	v.SetDefault("orchestrator.kind", "http")
	v.SetDefault("orchestrator.namespace", "default")
	v.SetDefault("orchestrator.task_queue", "outreach")
	v.SetDefault("orchestrator.probe_timeout", 3*time.Second)
	v.SetDefault("orchestrator.call_flow", "provider_call")
	v.SetDefault("orchestrator.research_flow", "research_providers")
	v.SetDefault("orchestrator.poll_interval", 5*time.Second)
	v.SetDefault("orchestrator.max_polls", 36)
	v.SetDefault("voice.base_url", "https://api.vapi.ai")
	v.SetDefault("voice.model_provider", "openai")
	v.SetDefault("voice.model", "gpt-4o-mini")
	v.SetDefault("voice.max_duration_seconds", 180)
	v.SetDefault("voice.poll_interval", 5*time.Second)
	v.SetDefault("voice.max_polls", 36)
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.rate_per_sec", 10.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("research.max_results", 10)
	v.SetDefault("research.min_results", 3)
	v.SetDefault("research.radius_miles", 25.0)
	v.SetDefault("enrich.min_with_phone", 3)
	v.SetDefault("enrich.max_to_enrich", 10)
	v.SetDefault("enrich.batch_size", 5)
	v.SetDefault("enrich.batch_delay", 100*time.Millisecond)
	v.SetDefault("enrich.rate_per_sec", 10.0)
	v.SetDefault("enrich.burst", 5)
	v.SetDefault("dispatch.max_concurrent", 5)
	v.SetDefault("dispatch.window_delay", 500*time.Millisecond)
	v.SetDefault("scoring.weights.availability", w.Availability)
	v.SetDefault("scoring.weights.rate", w.Rate)
	v.SetDefault("scoring.weights.criteria", w.Criteria)
	v.SetDefault("scoring.weights.call_quality", w.CallQuality)
	v.SetDefault("scoring.weights.professionalism", w.Professionalism)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_backoff", time.Minute)
	v.SetDefault("retry.max_backoff", time.Hour)
	v.SetDefault("retry.interval", 10*time.Minute)
	v.SetDefault("retry.batch_size", 20)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.call_error_rate_threshold", 0.5)
	v.SetDefault("monitoring.stuck_after_minutes", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.alert_cooldown_minutes", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_grace", 30*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 0.01

// ValidateWeights rejects negative weights and sums outside 1.0±0.01.
func ValidateWeights(w model.ScoringWeights) error {
	var problems []string
	for name, val := range map[string]float64{
		"availability":    w.Availability,
		"rate":            w.Rate,
		"criteria":        w.Criteria,
		"call_quality":    w.CallQuality,
		"professionalism": w.Professionalism,
	} {
		if val < 0 {
			problems = append(problems, name+" is negative")
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		problems = append(problems, fmt.Sprintf("weights sum to %.3f, want 1.0", sum))
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return eris.Errorf("config: invalid scoring weights: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the settings a command needs. mode is one of "serve",
// "dispatch", "research", "recommend", "enrich", "outreach" or "health".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "serve", "dispatch", "research", "recommend", "enrich", "outreach", "health":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if err := ValidateWeights(c.Scoring.Weights); err != nil {
		return err
	}

	var problems []string
	if c.Dispatch.MaxConcurrent < 1 || c.Dispatch.MaxConcurrent > MaxConcurrentLimit {
		problems = append(problems, fmt.Sprintf("dispatch.max_concurrent must be between 1 and %d", MaxConcurrentLimit))
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must be >= 0")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	placesCalls := mode == "serve" || mode == "dispatch" || mode == "outreach"
	if placesCalls && !c.Orchestrator.Enabled {
		if c.Voice.Key == "" {
			problems = append(problems, "voice.key is required (OUTREACH_VOICE_KEY)")
		}
		if c.Voice.PhoneNumberID == "" {
			problems = append(problems, "voice.phone_number_id is required (OUTREACH_VOICE_PHONE_NUMBER_ID)")
		}
	}
	searches := mode == "research" || mode == "outreach" || mode == "serve" || mode == "enrich"
	if searches && c.Google.Key == "" && !c.Orchestrator.Enabled {
		problems = append(problems, "google.key is required (OUTREACH_GOOGLE_KEY)")
	}
	if c.Orchestrator.Enabled && c.Orchestrator.Endpoint == "" {
		problems = append(problems, "orchestrator.endpoint is required when enabled")
	}
	if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required for the redis cache")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid %s configuration: %s", mode, strings.Join(problems, "; "))
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
