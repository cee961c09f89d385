package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends
const (
	StoreBackendSecure     = "secure"
	StoreBackendPreference = "preference"
	StoreBackendPostgres   = "postgres"
	StoreBackendMemory     = "memory"
)

// Rejection policies
const (
	RejectionPolicyFinish = "finish"
	RejectionPolicyHold   = "hold"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	IAP        IAPConfig        `mapstructure:"iap"`
	Store      StoreConfig      `mapstructure:"store"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Matomo     MatomoConfig     `mapstructure:"matomo"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	Issuer    string        `mapstructure:"issuer"`
	// BridgeSecret must be presented to register the device relaying the payment queue
	BridgeSecret string `mapstructure:"bridge_secret"`
}

// DatabaseConfig holds the pool settings of the postgres store backend
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MinConnections int           `mapstructure:"min_connections"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	HealthCheck    time.Duration `mapstructure:"health_check"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Password     string        `mapstructure:"password"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// IAPConfig holds App Store receipt verification configuration
type IAPConfig struct {
	SharedSecret    string        `mapstructure:"shared_secret"`
	ProductionURL   string        `mapstructure:"production_url"`
	SandboxURL      string        `mapstructure:"sandbox_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RejectionPolicy string        `mapstructure:"rejection_policy"`
}

// StoreConfig selects and configures the transaction persistence backend
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	BoltPath  string `mapstructure:"bolt_path"`
	SecureKey string `mapstructure:"secure_key"`
}

// SettlementConfig holds purchase coordinator tuning
type SettlementConfig struct {
	AutoRetry              bool          `mapstructure:"auto_retry"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	RetryMax               int           `mapstructure:"retry_max"`
	RecoveryCron           string        `mapstructure:"recovery_cron"`
	SettledCacheSize       int           `mapstructure:"settled_cache_size"`
	ReceiptCaptureAttempts uint64        `mapstructure:"receipt_capture_attempts"`
	EventBuffer            int           `mapstructure:"event_buffer"`
}

// RateLimitConfig holds per-device request limits
type RateLimitConfig struct {
	Rate   int           `mapstructure:"rate"`
	Period time.Duration `mapstructure:"period"`
}

// MatomoConfig holds settlement analytics configuration. Tracking is off when URL is empty.
type MatomoConfig struct {
	URL       string        `mapstructure:"url"`
	SiteID    string        `mapstructure:"site_id"`
	TokenAuth string        `mapstructure:"token_auth"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Buffer    int           `mapstructure:"buffer"`
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
	Release     string `mapstructure:"release"`
}

// Load loads configuration from environment variables.
// Nested keys map to upper-case env names, e.g. iap.shared_secret -> IAP_SHARED_SECRET.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// .env file is optional for production (env vars are used)
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 5)
	v.SetDefault("database.min_connections", 1)
	v.SetDefault("database.max_lifetime", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", 30*time.Second)

	// JWT defaults
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.issuer", "storekit-settlement")
	v.SetDefault("jwt.bridge_secret", "")

	// Redis defaults
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_timeout", 4*time.Second)

	// IAP defaults
	v.SetDefault("iap.shared_secret", "")
	v.SetDefault("iap.production_url", "https://buy.itunes.apple.com/verifyReceipt")
	v.SetDefault("iap.sandbox_url", "https://sandbox.itunes.apple.com/verifyReceipt")
	v.SetDefault("iap.timeout", 30*time.Second)
	v.SetDefault("iap.rejection_policy", RejectionPolicyFinish)

	// Store defaults
	v.SetDefault("store.backend", StoreBackendSecure)
	v.SetDefault("store.bolt_path", "./data/preferences.db")
	v.SetDefault("store.secure_key", "")

	// Settlement defaults
	v.SetDefault("settlement.auto_retry", true)
	v.SetDefault("settlement.retry_delay", time.Minute)
	v.SetDefault("settlement.retry_max", 10)
	v.SetDefault("settlement.recovery_cron", "@every 15m")
	v.SetDefault("settlement.settled_cache_size", 1024)
	v.SetDefault("settlement.receipt_capture_attempts", 3)
	v.SetDefault("settlement.event_buffer", 64)

	// Rate limit defaults
	v.SetDefault("ratelimit.rate", 120)
	v.SetDefault("ratelimit.period", time.Minute)

	// Matomo defaults
	v.SetDefault("matomo.url", "")
	v.SetDefault("matomo.site_id", "1")
	v.SetDefault("matomo.token_auth", "")
	v.SetDefault("matomo.timeout", 10*time.Second)
	v.SetDefault("matomo.buffer", 256)

	// Sentry defaults
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.release", "")
}

func validate(cfg *Config) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.JWT.BridgeSecret != "" && len(cfg.JWT.BridgeSecret) < 16 {
		return fmt.Errorf("JWT_BRIDGE_SECRET must be at least 16 characters")
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	switch cfg.Store.Backend {
	case StoreBackendSecure:
		if cfg.Store.SecureKey == "" {
			return fmt.Errorf("STORE_SECURE_KEY is required for the secure backend")
		}
	case StoreBackendPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case StoreBackendPreference:
		if cfg.Store.BoltPath == "" {
			return fmt.Errorf("STORE_BOLT_PATH is required for the preference backend")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}

	switch cfg.IAP.RejectionPolicy {
	case RejectionPolicyFinish, RejectionPolicyHold:
	default:
		return fmt.Errorf("unknown IAP_REJECTION_POLICY %q", cfg.IAP.RejectionPolicy)
	}
	return nil
}
