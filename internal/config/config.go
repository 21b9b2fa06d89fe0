package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	AnthropicAPIKey     string        `mapstructure:"ANTHROPIC_API_KEY"`
	AnalysisModel       string        `mapstructure:"ANALYSIS_MODEL"`
	EmbeddingURL        string        `mapstructure:"EMBEDDING_URL"`
	EmbeddingModel      string        `mapstructure:"EMBEDDING_MODEL"`
	EmbeddingAPIKey     string        `mapstructure:"EMBEDDING_API_KEY"`
	EmbeddingDimensions int           `mapstructure:"EMBEDDING_DIMENSIONS"`
	EmbeddingRPS        float64       `mapstructure:"EMBEDDING_RPS"`
	ProviderTimeout     time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	DuplicateRadiusKm      float64 `mapstructure:"DUPLICATE_RADIUS_KM"`
	DuplicateThreshold     float64 `mapstructure:"DUPLICATE_THRESHOLD"`
	DuplicateMinChars      int     `mapstructure:"DUPLICATE_MIN_CHARS"`
	SLAConfidenceThreshold float64 `mapstructure:"SLA_CONFIDENCE_THRESHOLD"`
	RoutingMinConfidence   float64 `mapstructure:"ROUTING_MIN_CONFIDENCE"`
	RoutingMinChars        int     `mapstructure:"ROUTING_MIN_CHARS"`
	DefaultDepartment      string  `mapstructure:"DEFAULT_DEPARTMENT"`
	HotIssueUpvotes        int     `mapstructure:"HOT_ISSUE_UPVOTES"`

	GeocoderURL       string `mapstructure:"GEOCODER_URL"`
	GeocoderUserAgent string `mapstructure:"GEOCODER_USER_AGENT"`

	LiveRoutingDelay   time.Duration `mapstructure:"LIVE_ROUTING_DELAY"`
	LiveDuplicateDelay time.Duration `mapstructure:"LIVE_DUPLICATE_DELAY"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "5000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 5)

	v.SetDefault("ANALYSIS_MODEL", "claude-sonnet-4-5-20250929")
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("EMBEDDING_DIMENSIONS", 768)
	v.SetDefault("EMBEDDING_RPS", 5)
	v.SetDefault("PROVIDER_TIMEOUT", "20s")

	v.SetDefault("DUPLICATE_RADIUS_KM", 0.3)
	v.SetDefault("DUPLICATE_THRESHOLD", 0.85)
	v.SetDefault("DUPLICATE_MIN_CHARS", 20)
	v.SetDefault("SLA_CONFIDENCE_THRESHOLD", 0.75)
	v.SetDefault("ROUTING_MIN_CONFIDENCE", 0.6)
	v.SetDefault("ROUTING_MIN_CHARS", 10)
	v.SetDefault("DEFAULT_DEPARTMENT", "General")
	v.SetDefault("HOT_ISSUE_UPVOTES", 5)

	v.SetDefault("GEOCODER_USER_AGENT", "civicfix-backend")

	v.SetDefault("LIVE_ROUTING_DELAY", "800ms")
	v.SetDefault("LIVE_DUPLICATE_DELAY", "2s")
}

// Validate rejects thresholds that would make the triage gates meaningless.
func (c Config) Validate() error {
	for name, val := range map[string]float64{
		"DUPLICATE_THRESHOLD":      c.DuplicateThreshold,
		"SLA_CONFIDENCE_THRESHOLD": c.SLAConfidenceThreshold,
		"ROUTING_MIN_CONFIDENCE":   c.RoutingMinConfidence,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%s must be between 0 and 1 (got %.3f)", name, val)
		}
	}
	if c.DuplicateRadiusKm <= 0 {
		return fmt.Errorf("DUPLICATE_RADIUS_KM must be positive (got %.3f)", c.DuplicateRadiusKm)
	}
	if c.DuplicateMinChars < 0 || c.RoutingMinChars < 0 {
		return fmt.Errorf("minimum character thresholds cannot be negative")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive (got %d)", c.EmbeddingDimensions)
	}
	return nil
}
