// Package config loads runtime settings from .env, config.yaml and AGENTHUB_* variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Solana   SolanaConfig   `mapstructure:"solana"`
	Purchase PurchaseConfig `mapstructure:"purchase"`
	Matcher  MatcherConfig  `mapstructure:"matcher"`
	Session  SessionConfig  `mapstructure:"session"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // postgres | memory
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

type SolanaConfig struct {
	Network           string  `mapstructure:"network"` // solana | solana-devnet
	RPCURL            string  `mapstructure:"rpc_url"`
	USDCMint          string  `mapstructure:"usdc_mint"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Commitment        string  `mapstructure:"commitment"`
}

type PurchaseConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	HealthCheck     bool          `mapstructure:"health_check"`
	RetryOnFailure  bool          `mapstructure:"retry_on_failure"`
}

type MatcherConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SessionConfig struct {
	Driver        string `mapstructure:"driver"` // memory | redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type AlertsConfig struct {
	Provider    string `mapstructure:"provider"` // log | plunk
	PlunkAPIKey string `mapstructure:"plunk_api_key"`
	PlunkAPIURL string `mapstructure:"plunk_api_url"`
	PlunkFrom   string `mapstructure:"plunk_from"`
	AdminEmail  string `mapstructure:"admin_email"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

const (
	MainnetUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wNGGkZwyTDt1v"
	DevnetUSDCMint  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)

	v.SetDefault("solana.network", "solana-devnet")
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.requests_per_second", 5)
	v.SetDefault("solana.commitment", "confirmed")

	v.SetDefault("purchase.max_retries", 2)
	v.SetDefault("purchase.session_ttl", 15*time.Minute)
	v.SetDefault("purchase.provider_timeout", 30*time.Second)
	v.SetDefault("purchase.health_check", false)
	v.SetDefault("purchase.retry_on_failure", true)

	v.SetDefault("matcher.cache_ttl", 60*time.Second)

	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.redis_addr", "localhost:6379")

	v.SetDefault("alerts.provider", "log")
	v.SetDefault("alerts.plunk_api_url", "https://api.useplunk.com/v1/send")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env (optional), config.yaml (optional) and AGENTHUB_* environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("AGENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "read config file")
		}
	}

	// AutomaticEnv only resolves keys viper already knows; bind the ones without defaults.
	for _, key := range []string{
		"store.database_url", "solana.usdc_mint", "session.redis_password", "session.redis_db",
		"auth.jwt_secret", "alerts.plunk_api_key", "alerts.plunk_from", "alerts.admin_email",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "bind env %s", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "decode config")
	}
	if cfg.Solana.USDCMint == "" {
		cfg.Solana.USDCMint = DefaultUSDCMint(cfg.Solana.Network)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultUSDCMint returns the canonical USDC mint for a network.
func DefaultUSDCMint(network string) string {
	if network == "solana" || network == "solana-mainnet" {
		return MainnetUSDCMint
	}
	return DevnetUSDCMint
}

func (c *Config) Validate() error {
	if c.Purchase.MaxRetries < 0 {
		return eris.New("purchase.max_retries must be >= 0")
	}
	if c.Purchase.SessionTTL <= 0 {
		return eris.New("purchase.session_ttl must be positive")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("store.database_url is required for the postgres driver")
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		return eris.Errorf("unknown session.driver %q", c.Session.Driver)
	}
	return nil
}

// InitLogger builds the process logger and installs it as zap's global.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrapf(err, "parse log level %q", cfg.Level)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, eris.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
