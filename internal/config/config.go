package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	CacheKeyInput    = "input"
	CacheKeyEndpoint = "endpoint"

	ListingSourceREST     = "rest"
	ListingSourcePostgres = "postgres"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	OTLPEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"OTEL_TRACE_SAMPLE_RATE"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	OpenMRSBaseURL  string        `mapstructure:"OPENMRS_BASE_URL"`
	OpenMRSUsername string        `mapstructure:"OPENMRS_USERNAME"`
	OpenMRSPassword string        `mapstructure:"OPENMRS_PASSWORD"`
	OpenMRSTimeout  time.Duration `mapstructure:"OPENMRS_TIMEOUT"`
	OpenMRSMaxPages int           `mapstructure:"OPENMRS_MAX_PAGES"`

	PredictionURL      string        `mapstructure:"PREDICTION_URL"`
	PredictionTimeout  time.Duration `mapstructure:"PREDICTION_TIMEOUT"`
	PredictionCacheKey string        `mapstructure:"PREDICTION_CACHE_KEY"`

	ConceptARTStartDate   string `mapstructure:"CONCEPT_ART_START_DATE"`
	ConceptLastEncounter  string `mapstructure:"CONCEPT_LAST_ENCOUNTER"`
	ConceptCurrentRegimen string `mapstructure:"CONCEPT_CURRENT_REGIMEN"`
	ConceptARVAdherence   string `mapstructure:"CONCEPT_ARV_ADHERENCE"`
	ConceptVLIndication   string `mapstructure:"CONCEPT_VL_INDICATION"`

	ListingSource string `mapstructure:"LISTING_SOURCE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACE_SAMPLE_RATE",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"OPENMRS_BASE_URL", "OPENMRS_USERNAME", "OPENMRS_PASSWORD", "OPENMRS_TIMEOUT", "OPENMRS_MAX_PAGES",
	"PREDICTION_URL", "PREDICTION_TIMEOUT", "PREDICTION_CACHE_KEY",
	"CONCEPT_ART_START_DATE", "CONCEPT_LAST_ENCOUNTER", "CONCEPT_CURRENT_REGIMEN",
	"CONCEPT_ARV_ADHERENCE", "CONCEPT_VL_INDICATION",
	"LISTING_SOURCE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("OTEL_TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("OPENMRS_TIMEOUT", "10s")
	v.SetDefault("OPENMRS_MAX_PAGES", 10)
	v.SetDefault("PREDICTION_URL", "https://ai.mets.or.ug/predict")
	v.SetDefault("PREDICTION_TIMEOUT", "15s")
	v.SetDefault("PREDICTION_CACHE_KEY", CacheKeyInput)
	v.SetDefault("CONCEPT_ART_START_DATE", "ab505422-26d9-41f1-a079-c3d222000440")
	v.SetDefault("CONCEPT_LAST_ENCOUNTER", "59f36196-3ebe-4fea-be92-6fc9551c3a11")
	v.SetDefault("CONCEPT_CURRENT_REGIMEN", "dd2b0b4d-30ab-102d-86b0-7a5022ba4115")
	v.SetDefault("CONCEPT_ARV_ADHERENCE", "dce03b2f-30ab-102d-86b0-7a5022ba4115")
	v.SetDefault("CONCEPT_VL_INDICATION", "59f36196-3ebe-4fea-be92-6fc9551c3a11")
	v.SetDefault("LISTING_SOURCE", ListingSourceREST)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.OpenMRSBaseURL == "" {
		return nil, fmt.Errorf("OPENMRS_BASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); every request is treated as admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Validate checks that the configuration is usable. Outside development a
// token verifier (issuer/JWKS or a signing key) must be configured.
func (c *Config) Validate() error {
	switch c.PredictionCacheKey {
	case CacheKeyInput, CacheKeyEndpoint:
	default:
		return fmt.Errorf("PREDICTION_CACHE_KEY must be %q or %q, got %q",
			CacheKeyInput, CacheKeyEndpoint, c.PredictionCacheKey)
	}

	switch c.ListingSource {
	case ListingSourceREST:
	case ListingSourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LISTING_SOURCE is %q", ListingSourcePostgres)
		}
	default:
		return fmt.Errorf("LISTING_SOURCE must be %q or %q, got %q",
			ListingSourceREST, ListingSourcePostgres, c.ListingSource)
	}

	if c.PredictionURL == "" {
		return fmt.Errorf("PREDICTION_URL must not be empty")
	}
	if c.OpenMRSMaxPages < 1 {
		return fmt.Errorf("OPENMRS_MAX_PAGES must be at least 1, got %d", c.OpenMRSMaxPages)
	}

	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	return nil
}
