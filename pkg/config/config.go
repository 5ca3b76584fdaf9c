package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Gateway  GatewayConfig
	Session  SessionConfig
	Cache    CacheConfig
	Checkout CheckoutConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" default:"production"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type GatewayConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_GATEWAY_BASE_URL" default:"https://gbdelivering.com/action"`
	UploadsBaseURL string        `envconfig:"STOREFRONT_GATEWAY_UPLOADS_BASE_URL" default:"https://gbdelivering.com/uploads"`
	Timeout        time.Duration `envconfig:"STOREFRONT_GATEWAY_TIMEOUT" default:"15s"`
	PaymentHost    string        `envconfig:"STOREFRONT_GATEWAY_PAYMENT_HOST" default:"secure.3gdirectpay.com"`
}

func (g GatewayConfig) validate() error {
	if strings.TrimSpace(g.BaseURL) == "" {
		return fmt.Errorf("%s is required", EnvGatewayBaseURL)
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewayTimeout)
	}
	return nil
}

type SessionConfig struct {
	DBPath string `envconfig:"STOREFRONT_SESSION_DB_PATH" default:"storefront.db"`
}

type CacheConfig struct {
	RedisURL string        `envconfig:"STOREFRONT_CACHE_REDIS_URL"`
	ImageTTL time.Duration `envconfig:"STOREFRONT_CACHE_IMAGE_TTL" default:"1h"`
}

// Enabled reports whether the optional image cache is configured.
func (c CacheConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

type CheckoutConfig struct {
	PollInterval    time.Duration `envconfig:"STOREFRONT_CHECKOUT_POLL_INTERVAL" default:"3s"`
	MaxPollAttempts int           `envconfig:"STOREFRONT_CHECKOUT_MAX_POLL_ATTEMPTS" default:"40"`
}
