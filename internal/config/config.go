package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL   string `envconfig:"DATABASE_URL"`
	DBAutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	TxMaxAttempts int    `envconfig:"TX_MAX_ATTEMPTS" default:"3"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	BarcodeCacheTTL time.Duration `envconfig:"BARCODE_CACHE_TTL" default:"10m"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	DefaultPaymentType string `envconfig:"DEFAULT_PAYMENT_TYPE" default:"cash"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.TxMaxAttempts < 1 {
		cfg.TxMaxAttempts = 1
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	if cfg.BarcodeCacheTTL <= 0 {
		cfg.BarcodeCacheTTL = 10 * time.Minute
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
