// Package config loads the service configuration from an optional YAML file
// followed by TRADEPOST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Secrets are handed by value to the token codec, webhook verifier and
// payment gateway at start-up. Nothing else reads them.
type Secrets struct {
	TokenSecret   string `yaml:"tokenSecret"`
	WebhookSecret string `yaml:"webhookSecret"`
	GatewayAPIKey string `yaml:"gatewayApiKey"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpcAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	RateLimitRPS    float64       `yaml:"rateLimitRps"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
}

type Log struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

type Storage struct {
	// Driver is "postgres" or "memory".
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
	ConnMaxIdle  time.Duration `yaml:"connMaxIdle"`
	// AutoMigrate applies embedded migrations at start-up.
	AutoMigrate bool `yaml:"autoMigrate"`
}

type Cache struct {
	// Driver is "memory" or "redis".
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redisAddr"`
	RedisDB   int           `yaml:"redisDb"`
	RedisPass string        `yaml:"redisPassword"`
	Prefix    string        `yaml:"prefix"`
	EventTTL  time.Duration `yaml:"eventTtl"`
}

type Auth struct {
	TokenTTL        time.Duration `yaml:"tokenTtl"`
	Issuer          string        `yaml:"issuer"`
	AllowQueryToken bool          `yaml:"allowQueryToken"`
}

type Payments struct {
	SuccessURL          string `yaml:"successUrl"`
	CancelURL           string `yaml:"cancelUrl"`
	SubscriptionPriceID string `yaml:"subscriptionPriceId"`
	Currency            string `yaml:"currency"`
}

type Google struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURL  string `yaml:"redirectUrl"`
}

// Enabled reports whether Google sign-in is configured.
func (g Google) Enabled() bool { return g.ClientID != "" && g.ClientSecret != "" }

type Config struct {
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Storage  Storage  `yaml:"storage"`
	Cache    Cache    `yaml:"cache"`
	Auth     Auth     `yaml:"auth"`
	Payments Payments `yaml:"payments"`
	Google   Google   `yaml:"google"`
	Secrets  Secrets  `yaml:"secrets"`
}

// Default returns the configuration used when neither file nor env say otherwise.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Log:     Log{Env: "dev", Level: "info"},
		Storage: Storage{Driver: "memory", MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxIdle: 5 * time.Minute},
		Cache:   Cache{Driver: "memory", Prefix: "tradepost:", EventTTL: 72 * time.Hour},
		Auth:    Auth{TokenTTL: time.Hour, Issuer: "tradepost"},
		Payments: Payments{
			SuccessURL: "http://localhost:3000/success",
			CancelURL:  "http://localhost:3000/cancel",
			Currency:   "usd",
		},
	}
}

// Load reads path (when non-empty) over Default and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Secrets.TokenSecret) == "" {
		errs = append(errs, errors.New("secrets.tokenSecret is required"))
	}
	if strings.TrimSpace(c.Secrets.WebhookSecret) == "" {
		errs = append(errs, errors.New("secrets.webhookSecret is required"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redisAddr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q is not supported", c.Cache.Driver))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.tokenTtl must be positive"))
	}
	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup("TRADEPOST_" + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup("TRADEPOST_" + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("TRADEPOST_%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup("TRADEPOST_" + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("TRADEPOST_%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup("TRADEPOST_" + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("TRADEPOST_%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &cfg.Server.Addr)
	str("GRPC_ADDR", &cfg.Server.GRPCAddr)
	if v, ok := lookup("TRADEPOST_CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	num("RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst)
	if v, ok := lookup("TRADEPOST_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRADEPOST_RATE_LIMIT_RPS: %w", err))
		} else {
			cfg.Server.RateLimitRPS = f
		}
	}
	str("LOG_ENV", &cfg.Log.Env)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("DATABASE_URL", &cfg.Storage.DSN)
	num("DB_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	num("DB_MAX_IDLE_CONNS", &cfg.Storage.MaxIdleConns)
	boolean("STORAGE_AUTO_MIGRATE", &cfg.Storage.AutoMigrate)
	str("CACHE_DRIVER", &cfg.Cache.Driver)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	num("REDIS_DB", &cfg.Cache.RedisDB)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPass)
	str("CACHE_PREFIX", &cfg.Cache.Prefix)
	dur("TOKEN_TTL", &cfg.Auth.TokenTTL)
	boolean("ALLOW_QUERY_TOKEN", &cfg.Auth.AllowQueryToken)
	str("CHECKOUT_SUCCESS_URL", &cfg.Payments.SuccessURL)
	str("CHECKOUT_CANCEL_URL", &cfg.Payments.CancelURL)
	str("SUBSCRIPTION_PRICE_ID", &cfg.Payments.SubscriptionPriceID)
	str("CURRENCY", &cfg.Payments.Currency)
	str("GOOGLE_CLIENT_ID", &cfg.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &cfg.Google.ClientSecret)
	str("GOOGLE_REDIRECT_URL", &cfg.Google.RedirectURL)
	str("TOKEN_SECRET", &cfg.Secrets.TokenSecret)
	str("WEBHOOK_SECRET", &cfg.Secrets.WebhookSecret)
	str("GATEWAY_API_KEY", &cfg.Secrets.GatewayAPIKey)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
