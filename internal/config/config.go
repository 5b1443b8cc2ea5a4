// Package config loads service configuration from the environment. Secrets
// have no defaults: a deployment that forgets them must fail to start, not
// run with a guessable fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Env  string // "production", "staging", "development"
	Addr string

	// Postgres DSN. Empty selects the in-memory engine (demo/dev only).
	PGDSN string

	// AuthSecret signs session tokens. Required.
	AuthSecret string

	// PINPepper is mixed into PIN hashes. Required; rotating it invalidates
	// every stored PIN hash.
	PINPepper string

	TokenTTL          time.Duration
	DemoLoginsEnabled bool

	// RedisAddr enables the shared device-token deny-list. Empty keeps
	// revocation checks local to the stored binding flag.
	RedisAddr string

	StoreTimeout  time.Duration
	ScopeCacheTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

const (
	defaultAddr          = ":8080"
	defaultTokenTTL      = 8 * time.Hour
	defaultStoreTimeout  = 5 * time.Second
	defaultScopeCacheTTL = 30 * time.Second
	defaultRateRPS       = 50
	defaultRateBurst     = 100
	defaultMaxBody       = 1 << 20 // 1 MiB
)

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		Env:               strings.ToLower(getenv("TABLESTACK_ENV", "development")),
		Addr:              getenv("TABLESTACK_ADDR", defaultAddr),
		PGDSN:             os.Getenv("TABLESTACK_PG_DSN"),
		AuthSecret:        os.Getenv("TABLESTACK_AUTH_SECRET"),
		PINPepper:         os.Getenv("TABLESTACK_PIN_PEPPER"),
		RedisAddr:         os.Getenv("TABLESTACK_REDIS_ADDR"),
		TokenTTL:          defaultTokenTTL,
		StoreTimeout:      defaultStoreTimeout,
		ScopeCacheTTL:     defaultScopeCacheTTL,
		RateLimitRPS:      defaultRateRPS,
		RateLimitBurst:    defaultRateBurst,
		MaxBodyBytes:      defaultMaxBody,
		DemoLoginsEnabled: getenvBool("TABLESTACK_DEMO_LOGINS", false),
	}

	var err error
	if cfg.TokenTTL, err = getenvDuration("TABLESTACK_TOKEN_TTL", defaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = getenvDuration("TABLESTACK_STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ScopeCacheTTL, err = getenvDuration("TABLESTACK_SCOPE_CACHE_TTL", defaultScopeCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = getenvFloat("TABLESTACK_RATE_RPS", defaultRateRPS); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getenvInt("TABLESTACK_RATE_BURST", defaultRateBurst); err != nil {
		return Config{}, err
	}
	if cfg.MaxBodyBytes, err = getenvInt64("TABLESTACK_MAX_BODY_BYTES", defaultMaxBody); err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("config: TABLESTACK_AUTH_SECRET is required")
	}
	if strings.TrimSpace(c.PINPepper) == "" {
		return errors.New("config: TABLESTACK_PIN_PEPPER is required")
	}
	if c.Production() && c.DemoLoginsEnabled {
		return errors.New("config: demo logins must not be enabled in production")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: token ttl must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config: store timeout must be positive")
	}
	return nil
}

// Production reports whether the service runs in the production environment.
func (c Config) Production() bool { return c.Env == "production" }

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getenvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getenvInt64(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
