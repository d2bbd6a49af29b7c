// Package config resolves runtime settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"guardian.org/internal/ratelimit"
)

// Config is the resolved runtime configuration.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	RequestTimeout time.Duration

	PostgresDSN string
	RedisURL    string

	JWTSecret string
	// SecretGenerated reports that no secret was configured and a random
	// one was created for this process.
	SecretGenerated bool
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RevocationTTL   time.Duration

	RateLimit ratelimit.Config

	LockoutThreshold int
	LockoutDuration  time.Duration

	TOTPIssuer string

	BootstrapUsername string
	BootstrapPassword string
}

type configFile struct {
	HTTP struct {
		Addr               string `yaml:"addr"`
		RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	} `yaml:"http"`
	GRPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"grpc"`
	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"storage"`
	Tokens struct {
		Secret            string `yaml:"secret"`
		AccessTTLSecs     int    `yaml:"access_ttl_secs"`
		RefreshTTLSecs    int    `yaml:"refresh_ttl_secs"`
		RevocationTTLSecs int    `yaml:"revocation_ttl_secs"`
	} `yaml:"tokens"`
	RateLimit struct {
		MaxRequests int `yaml:"max_requests"`
		WindowSecs  int `yaml:"window_secs"`
	} `yaml:"rate_limit"`
	Lockout struct {
		Threshold    int `yaml:"threshold"`
		DurationSecs int `yaml:"duration_secs"`
	} `yaml:"lockout"`
	TOTP struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"totp"`
	Bootstrap struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"bootstrap"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr:         ":6123",
		RequestTimeout:   10 * time.Second,
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		RevocationTTL:    7 * 24 * time.Hour,
		RateLimit:        ratelimit.DefaultConfig(),
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		TOTPIssuer:       "Guardian",
	}
}

// Load resolves configuration. An empty path skips the file; a missing file
// at a non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(&cfg, f)
	}

	env := envReader{}
	cfg.HTTPAddr = env.str("GUARDIAN_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = env.str("GUARDIAN_GRPC_ADDR", cfg.GRPCAddr)
	cfg.RequestTimeout = env.secs("GUARDIAN_REQUEST_TIMEOUT_SECS", cfg.RequestTimeout)
	cfg.PostgresDSN = env.str("GUARDIAN_PG_DSN", cfg.PostgresDSN)
	cfg.RedisURL = env.str("GUARDIAN_REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = env.str("GUARDIAN_JWT_SECRET", cfg.JWTSecret)
	cfg.AccessTTL = env.secs("GUARDIAN_ACCESS_TTL_SECS", cfg.AccessTTL)
	cfg.RefreshTTL = env.secs("GUARDIAN_REFRESH_TTL_SECS", cfg.RefreshTTL)
	cfg.RevocationTTL = env.secs("GUARDIAN_REVOCATION_TTL_SECS", cfg.RevocationTTL)
	cfg.RateLimit.MaxRequests = env.integer("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.Window = env.secs("RATE_LIMIT_WINDOW_SECS", cfg.RateLimit.Window)
	cfg.LockoutThreshold = env.integer("GUARDIAN_LOCKOUT_THRESHOLD", cfg.LockoutThreshold)
	cfg.LockoutDuration = env.secs("GUARDIAN_LOCKOUT_SECS", cfg.LockoutDuration)
	cfg.TOTPIssuer = env.str("GUARDIAN_TOTP_ISSUER", cfg.TOTPIssuer)
	cfg.BootstrapUsername = env.str("GUARDIAN_BOOTSTRAP_USERNAME", cfg.BootstrapUsername)
	cfg.BootstrapPassword = env.str("GUARDIAN_BOOTSTRAP_PASSWORD", cfg.BootstrapPassword)
	if len(env.errs) > 0 {
		return Config{}, errors.Join(env.errs...)
	}

	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.JWTSecret = secret
		cfg.SecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.RevocationTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.RevocationTTL < c.RefreshTTL {
		errs = append(errs, errors.New("revocation ttl must cover the refresh ttl"))
	}
	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.LockoutThreshold <= 0 || c.LockoutDuration <= 0 {
		errs = append(errs, errors.New("lockout threshold and duration must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if (c.BootstrapUsername == "") != (c.BootstrapPassword == "") {
		errs = append(errs, errors.New("bootstrap username and password must be set together"))
	}
	return errors.Join(errs...)
}

func applyFile(cfg *Config, f configFile) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setSecs := func(dst *time.Duration, v int) {
		if v > 0 {
			*dst = time.Duration(v) * time.Second
		}
	}
	setStr(&cfg.HTTPAddr, f.HTTP.Addr)
	setSecs(&cfg.RequestTimeout, f.HTTP.RequestTimeoutSecs)
	setStr(&cfg.GRPCAddr, f.GRPC.Addr)
	setStr(&cfg.PostgresDSN, f.Storage.PostgresDSN)
	setStr(&cfg.RedisURL, f.Storage.RedisURL)
	setStr(&cfg.JWTSecret, f.Tokens.Secret)
	setSecs(&cfg.AccessTTL, f.Tokens.AccessTTLSecs)
	setSecs(&cfg.RefreshTTL, f.Tokens.RefreshTTLSecs)
	setSecs(&cfg.RevocationTTL, f.Tokens.RevocationTTLSecs)
	if f.RateLimit.MaxRequests > 0 {
		cfg.RateLimit.MaxRequests = f.RateLimit.MaxRequests
	}
	setSecs(&cfg.RateLimit.Window, f.RateLimit.WindowSecs)
	if f.Lockout.Threshold > 0 {
		cfg.LockoutThreshold = f.Lockout.Threshold
	}
	setSecs(&cfg.LockoutDuration, f.Lockout.DurationSecs)
	setStr(&cfg.TOTPIssuer, f.TOTP.Issuer)
	setStr(&cfg.BootstrapUsername, f.Bootstrap.Username)
	setStr(&cfg.BootstrapPassword, f.Bootstrap.Password)
}

// envReader collects parse failures instead of silently falling back.
type envReader struct {
	errs []error
}

func (envReader) str(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func (e *envReader) integer(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: expected a positive integer, got %q", name, raw))
		return fallback
	}
	return v
}

func (e *envReader) secs(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: expected a positive number of seconds, got %q", name, raw))
		return fallback
	}
	return time.Duration(v) * time.Second
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
