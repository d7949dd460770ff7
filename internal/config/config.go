package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultAppName         = "cofrap-auth"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultGatewayURL      = "http://gateway.openfaas.svc.cluster.local:8080"
	defaultUpstreamTimeout = 10 * time.Second
	defaultShutdownDelay   = 10 * time.Second
	defaultInFlightTTL     = 30 * time.Second
	defaultSessionTTL      = 8 * time.Hour
	defaultLoginRateLimit  = 5
	defaultTOTPIssuer      = "COFRAP"
)

// Config captures application runtime configuration loaded from an optional
// TOML file and the environment. Environment values win.
type Config struct {
	AppName         string        `toml:"app_name"`
	AppEnv          string        `toml:"app_env"`
	Port            string        `toml:"port"`
	LogLevel        string        `toml:"log_level"`
	GatewayURL      string        `toml:"gateway_url"`
	UpstreamTimeout time.Duration `toml:"-"`
	DatabaseURL     string        `toml:"database_url"`
	RedisURL        string        `toml:"redis_url"`
	ShutdownPeriod  time.Duration `toml:"-"`
	InFlightTTL     time.Duration `toml:"-"`
	SessionTTL      time.Duration `toml:"-"`
	LoginRateLimit  int           `toml:"login_rate_limit"`
	DevUpstream     bool          `toml:"dev_upstream"`
	CookieSecure    bool          `toml:"cookie_secure"`
	TOTPIssuer      string        `toml:"totp_issuer"`
}

// fileDurations holds duration keys, which TOML spells as strings ("30s").
type fileDurations struct {
	UpstreamTimeout string `toml:"upstream_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	InFlightTTL     string `toml:"inflight_ttl"`
	SessionTTL      string `toml:"session_ttl"`
}

// Load reads configuration values and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         defaultAppName,
		AppEnv:          defaultAppEnv,
		Port:            defaultPort,
		LogLevel:        defaultLogLevel,
		UpstreamTimeout: defaultUpstreamTimeout,
		ShutdownPeriod:  defaultShutdownDelay,
		InFlightTTL:     defaultInFlightTTL,
		SessionTTL:      defaultSessionTTL,
		LoginRateLimit:  defaultLoginRateLimit,
		TOTPIssuer:      defaultTOTPIssuer,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.AppName = getEnv("APP_NAME", cfg.AppName)
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.GatewayURL = getEnv("OPENFAAS_GATEWAY_URL", cfg.GatewayURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.TOTPIssuer = getEnv("TOTP_ISSUER", cfg.TOTPIssuer)

	var err error
	if cfg.UpstreamTimeout, err = durationEnv("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.InFlightTTL, err = durationEnv("INFLIGHT_TTL", cfg.InFlightTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = intEnv("LOGIN_RATE_LIMIT", cfg.LoginRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.DevUpstream, err = boolEnv("DEV_UPSTREAM", cfg.DevUpstream); err != nil {
		return Config{}, err
	}
	if cfg.CookieSecure, err = boolEnv("COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return Config{}, err
	}

	if cfg.GatewayURL == "" {
		if cfg.DevUpstream {
			cfg.GatewayURL = "http://127.0.0.1" + cfg.Address()
		} else {
			cfg.GatewayURL = defaultGatewayURL
		}
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")

	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if !cfg.IsDev() && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}
	if cfg.DevUpstream && !cfg.IsDev() {
		return Config{}, fmt.Errorf("DEV_UPSTREAM is only allowed in development")
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var d fileDurations
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	for _, f := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"upstream_timeout", d.UpstreamTimeout, &cfg.UpstreamTimeout},
		{"shutdown_timeout", d.ShutdownTimeout, &cfg.ShutdownPeriod},
		{"inflight_ttl", d.InFlightTTL, &cfg.InFlightTTL},
		{"session_ttl", d.SessionTTL, &cfg.SessionTTL},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", f.key, path, err)
		}
		*f.dst = v
	}
	return nil
}

// IsDev reports whether the environment is a development one.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY_SECONDS as an integer, else KEY as a Go duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
