package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	minLookback = 24 * time.Hour
	maxLookback = 365 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Vault     Vault     `mapstructure:"vault"`
	Sync      Sync      `mapstructure:"sync"`
	Exchanges Exchanges `mapstructure:"exchanges"`
	Cache     Cache     `mapstructure:"cache"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Service string `mapstructure:"service"`
}

// Server holds the configuration for the HTTP API.
type Server struct {
	Port           int    `mapstructure:"port"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN   string `mapstructure:"dsn"`
	Debug bool   `mapstructure:"debug"`
}

// Auth holds the shared secret used to verify identity tokens issued by the
// identity provider.
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Vault holds the process-wide symmetric key for credentials at rest.
// Exactly one of DataKey (base64) or AppEncryptionKey (hex) should be set.
type Vault struct {
	DataKey          string `mapstructure:"data_key"`
	AppEncryptionKey string `mapstructure:"app_encryption_key"`
}

// Sync holds the windowing and resilience settings of the sync orchestrator.
type Sync struct {
	WindowSpan     time.Duration `mapstructure:"window_span"`
	MaxLookback    time.Duration `mapstructure:"max_lookback"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	LeaseTTL       time.Duration `mapstructure:"lease_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// Cache holds the read-side summary cache settings.
type Cache struct {
	SummaryTTL time.Duration `mapstructure:"summary_ttl"`
	MaxCost    int64         `mapstructure:"max_cost"`
}

// Exchanges groups per-exchange client settings.
type Exchanges struct {
	Binance Binance `mapstructure:"binance"`
	Bybit   Bybit   `mapstructure:"bybit"`
}

// Binance holds the configuration for the Binance Futures API.
type Binance struct {
	BaseURL        string   `mapstructure:"base_url"`
	RecvWindowMs   int64    `mapstructure:"recv_window_ms"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	VerifyDisabled bool     `mapstructure:"verify_disabled"`
	Symbols        []string `mapstructure:"symbols"`
}

// Bybit holds the configuration for the Bybit v5 API.
type Bybit struct {
	BaseURL        string        `mapstructure:"base_url"`
	RecvWindowMs   int64         `mapstructure:"recv_window_ms"`
	ClockSkew      time.Duration `mapstructure:"clock_skew"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	PageLimit      int           `mapstructure:"page_limit"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config.yml is not an error; defaults and the environment apply.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	bindLegacyEnv(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.Sync = cfg.Sync.normalized()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service", "tradepulse")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", "*")

	v.SetDefault("database.dsn", "tradepulse.db")
	v.SetDefault("database.debug", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("vault.data_key", "")
	v.SetDefault("vault.app_encryption_key", "")

	v.SetDefault("sync.window_span", 7*24*time.Hour)
	v.SetDefault("sync.max_lookback", 90*24*time.Hour)
	v.SetDefault("sync.request_timeout", 30*time.Second)
	v.SetDefault("sync.run_timeout", 5*time.Minute)
	v.SetDefault("sync.lease_ttl", 10*time.Minute)
	v.SetDefault("sync.max_retries", 3)

	v.SetDefault("exchanges.binance.base_url", "https://fapi.binance.com")
	v.SetDefault("exchanges.binance.recv_window_ms", 5000)
	v.SetDefault("exchanges.binance.rate_limit", 10) // requests per second
	v.SetDefault("exchanges.binance.rate_limit_burst", 5)
	v.SetDefault("exchanges.binance.verify_disabled", false)
	v.SetDefault("exchanges.binance.symbols", []string{"BTCUSDT", "ETHUSDT"})

	v.SetDefault("exchanges.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("exchanges.bybit.recv_window_ms", 10000)
	v.SetDefault("exchanges.bybit.clock_skew", 2*time.Second)
	v.SetDefault("exchanges.bybit.rate_limit", 10)
	v.SetDefault("exchanges.bybit.rate_limit_burst", 5)
	v.SetDefault("exchanges.bybit.page_limit", 100)

	v.SetDefault("cache.summary_ttl", 30*time.Second)
	v.SetDefault("cache.max_cost", 1000)
}

// bindLegacyEnv keeps the environment variable names already used by
// existing deployments working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("vault.data_key", "VAULT_DATA_KEY", "DATA_KEY")
	_ = v.BindEnv("vault.app_encryption_key", "VAULT_APP_ENCRYPTION_KEY", "APP_ENCRYPTION_KEY")
	_ = v.BindEnv("exchanges.binance.base_url", "EXCHANGES_BINANCE_BASE_URL", "BINANCE_DEFAULT_BASE_URL")
	_ = v.BindEnv("exchanges.binance.verify_disabled", "EXCHANGES_BINANCE_VERIFY_DISABLED", "BINANCE_VERIFY_DISABLED")
	_ = v.BindEnv("exchanges.bybit.base_url", "EXCHANGES_BYBIT_BASE_URL", "BYBIT_REST_BASE_URL")
	_ = v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_SECRET")
}

// normalized fills zero values and bounds the lookback depth.
func (s Sync) normalized() Sync {
	if s.WindowSpan <= 0 {
		s.WindowSpan = 7 * 24 * time.Hour
	}
	if s.MaxLookback <= 0 {
		s.MaxLookback = 90 * 24 * time.Hour
	}
	if s.MaxLookback < minLookback {
		s.MaxLookback = minLookback
	}
	if s.MaxLookback > maxLookback {
		s.MaxLookback = maxLookback
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.RunTimeout <= 0 {
		s.RunTimeout = 5 * time.Minute
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = 10 * time.Minute
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	return s
}
