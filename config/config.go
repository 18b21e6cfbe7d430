package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AuthModeLocal = "local"
	AuthModeJWKS  = "jwks"
)

// Settings holds the gateway configuration.
type Settings struct {
	BackendURL  string
	ListenAddr  string
	HTTPTimeout time.Duration

	RedisConnectionString string
	DeduperTTL            time.Duration

	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	OTPLength       int
	OTPTTL          time.Duration
	OTPMaxAttempts  int
	OTPSendInterval time.Duration
	OTPSendBurst    int

	AuthMode     string
	LocalSecret  string
	JWKSURL      string
	Audience     string
	Issuer       string
	JWKSCacheTTL time.Duration

	Debug     bool
	LogFormat string
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds Settings from a lookup function.
func FromEnv(getenv func(string) string) (Settings, error) {
	p := parser{getenv: getenv}
	s := Settings{
		BackendURL:            strings.TrimRight(p.str("BACKEND_URL", ""), "/"),
		ListenAddr:            p.str("LISTEN_ADDR", ":8080"),
		HTTPTimeout:           p.dur("HTTP_TIMEOUT", 30*time.Second),
		RedisConnectionString: p.str("REDIS_CONNECTION_STRING", ""),
		DeduperTTL:            p.dur("DEDUPER_TTL", 24*time.Hour),
		SessionIdleTTL:        p.dur("SESSION_IDLE_TTL", 30*time.Minute),
		SessionSweepInterval:  p.dur("SESSION_SWEEP_INTERVAL", time.Minute),
		OTPLength:             p.int("OTP_LENGTH", 6),
		OTPTTL:                p.dur("OTP_TTL", 5*time.Minute),
		OTPMaxAttempts:        p.int("OTP_MAX_ATTEMPTS", 5),
		OTPSendInterval:       p.dur("OTP_SEND_INTERVAL", 30*time.Second),
		OTPSendBurst:          p.int("OTP_SEND_BURST", 3),
		AuthMode:              strings.ToLower(p.str("AUTH_MODE", AuthModeLocal)),
		LocalSecret:           p.str("LOCAL_AUTH_SHARED_SECRET", ""),
		JWKSURL:               p.str("JWKS_URL", ""),
		Audience:              p.str("TOKEN_AUDIENCE", ""),
		Issuer:                p.str("TOKEN_ISSUER", ""),
		JWKSCacheTTL:          p.dur("JWKS_CACHE_TTL", 15*time.Minute),
		Debug:                 p.bool("DEBUG", false),
		LogFormat:             strings.ToLower(p.str("LOG_FORMAT", "text")),
	}
	if p.err != nil {
		return Settings{}, p.err
	}
	return s, s.Validate()
}

// Validate checks required values and ranges.
func (s Settings) Validate() error {
	if s.BackendURL == "" {
		return errors.New("missing BACKEND_URL")
	}
	if s.RedisConnectionString == "" {
		return errors.New("missing REDIS_CONNECTION_STRING")
	}
	if s.HTTPTimeout <= 0 {
		return errors.New("invalid HTTP_TIMEOUT: must be greater than zero")
	}
	if s.DeduperTTL <= 0 {
		return errors.New("invalid DEDUPER_TTL: must be greater than zero")
	}
	if s.SessionIdleTTL <= 0 || s.SessionSweepInterval <= 0 {
		return errors.New("invalid SESSION_IDLE_TTL or SESSION_SWEEP_INTERVAL: must be greater than zero")
	}
	if s.OTPLength < 4 || s.OTPLength > 10 {
		return fmt.Errorf("invalid OTP_LENGTH %d: must be between 4 and 10", s.OTPLength)
	}
	if s.OTPTTL <= 0 || s.OTPMaxAttempts <= 0 || s.OTPSendBurst <= 0 || s.OTPSendInterval <= 0 {
		return errors.New("invalid OTP settings: values must be greater than zero")
	}
	switch s.AuthMode {
	case AuthModeLocal:
		if s.LocalSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when AUTH_MODE=local")
		}
	case AuthModeJWKS:
		if s.JWKSURL == "" {
			return errors.New("JWKS_URL must be set when AUTH_MODE=jwks")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE value %q", s.AuthMode)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT value %q", s.LogFormat)
	}
	return nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) dur(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
