// Package config loads application configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/loader-licensing/internal/credential"
)

// Config holds all runtime configuration values.
type Config struct {
	Env           string // dev / prod
	Port          string
	AppID         string // loader identity id and expected X-App-Id
	AdminAPIToken string // exchanged for admin JWTs
	JWTSecret     string
	AdminTokenTTL time.Duration
	DBUser        string
	DBPass        string
	DBHost        string
	DBPort        string
	DBName        string
	DataDir       string // vault root
	LogDir        string // operator logs written by consumers
	AMQPURL       string // empty disables events
	BodyLimit     string
	Argon2        credential.Params

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// IsDev reports whether development logging should be used.
func (c Config) IsDev() bool { return c.Env == "dev" }

// Load reads the environment. Every missing or invalid required variable
// is reported in one joined error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:           l.must("APP_ENV"),
		Port:          l.must("APP_PORT"),
		AppID:         l.must("APP_ID"),
		AdminAPIToken: l.must("ADMIN_API_TOKEN"),
		JWTSecret:     l.must("JWT_SECRET"),
		AdminTokenTTL: time.Duration(envInt("ADMIN_TOKEN_TTL_MIN", 30)) * time.Minute,
		DBUser:        l.must("DB_USER"),
		DBPass:        os.Getenv("DB_PASS"),
		DBHost:        l.must("DB_HOST"),
		DBPort:        l.must("DB_PORT"),
		DBName:        l.must("DB_NAME"),
		DataDir:       envStr("DATA_DIR", "data"),
		LogDir:        envStr("LOG_DIR", "logs"),
		AMQPURL:       envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		BodyLimit:     envStr("BODY_LIMIT", "256M"),
		Argon2: credential.Params{
			Memory:  uint32(envInt("ARGON2_MEMORY_KIB", int(credential.InteractiveParams.Memory))),
			Time:    uint32(envInt("ARGON2_TIME", int(credential.InteractiveParams.Time))),
			Threads: uint8(envInt("ARGON2_THREADS", int(credential.InteractiveParams.Threads))),
			SaltLen: credential.InteractiveParams.SaltLen,
			KeyLen:  credential.InteractiveParams.KeyLen,
		},
		Redis:     LoadRedisConfig(),
		RateLimit: LoadRateLimitConfig(),
		Cache:     LoadCacheConfig(),
	}
	if cfg.AppID != "" {
		if _, err := uuid.Parse(cfg.AppID); err != nil {
			l.errs = append(l.errs, fmt.Errorf("APP_ID must be a uuid: %w", err))
		}
	}
	if cfg.Argon2.Memory < 8 || cfg.Argon2.Time < 1 || cfg.Argon2.Threads < 1 {
		l.errs = append(l.errs, errors.New("argon2 parameters must be positive (memory >= 8 KiB)"))
	}
	if cfg.AdminTokenTTL <= 0 {
		l.errs = append(l.errs, errors.New("ADMIN_TOKEN_TTL_MIN must be positive"))
	}
	return cfg, errors.Join(l.errs...)
}

type loader struct {
	errs []error
}

// must retrieves a required environment variable and records it as
// missing when unset or empty.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		l.errs = append(l.errs, fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return v
	}
	switch strings.ToLower(os.Getenv(k)) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
