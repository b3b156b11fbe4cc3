package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool
	JWTSecret    string

	// TrustedProxies are the addresses or CIDRs allowed to set X-Forwarded-For.
	// Empty means the TCP peer is always the client.
	TrustedProxies []string

	Moderation ModerationConfig
	RateLimit  RateLimitConfig
	Messaging  MessagingConfig
}

// ModerationConfig configures the content policy and the toxicity scanner.
type ModerationConfig struct {
	PerspectiveAPIKey string
	PerspectiveURL    string
	PerspectiveQPS    float64
	ExtraBannedTerms  []string
	IPSweepInterval   time.Duration
}

// RateLimitConfig selects the limiter backend and sweep cadence.
type RateLimitConfig struct {
	RedisAddr     string
	SweepInterval time.Duration
}

// MessagingConfig enables cross-instance blacklist propagation over NATS.
type MessagingConfig struct {
	NATSURL string
}

// DefaultPerspectiveURL is the public Perspective comment analyzer endpoint.
const DefaultPerspectiveURL = "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze"

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:  getEnv("OPTIPLAY_ENV", "development"),
		HTTPPort:     getEnv("OPTIPLAY_HTTP_PORT", "8080"),
		DatabasePath: getEnv("OPTIPLAY_DB_PATH", filepath.Join("data", "optiplay.db")),
		LogDir:       getEnv("OPTIPLAY_LOG_DIR", filepath.Join("data", "logs")),
		JWTSecret:    getEnv("OPTIPLAY_JWT_SECRET", "change-me-in-production"),

		TrustedProxies: splitList(os.Getenv("OPTIPLAY_TRUSTED_PROXIES")),
		Moderation: ModerationConfig{
			PerspectiveAPIKey: os.Getenv("OPTIPLAY_PERSPECTIVE_API_KEY"),
			PerspectiveURL:    getEnv("OPTIPLAY_PERSPECTIVE_URL", DefaultPerspectiveURL),
			ExtraBannedTerms:  splitList(os.Getenv("OPTIPLAY_BANNED_TERMS")),
		},
		RateLimit: RateLimitConfig{
			RedisAddr: os.Getenv("OPTIPLAY_REDIS_ADDR"),
		},
		Messaging: MessagingConfig{
			NATSURL: os.Getenv("OPTIPLAY_NATS_URL"),
		},
	}

	var err error
	if cfg.Debug, err = getBool("OPTIPLAY_DEBUG", cfg.Environment == "development"); err != nil {
		return Config{}, err
	}
	if cfg.Moderation.PerspectiveQPS, err = getFloat("OPTIPLAY_PERSPECTIVE_QPS", 1); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.SweepInterval, err = getDuration("OPTIPLAY_RATE_LIMIT_SWEEP", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Moderation.IPSweepInterval, err = getDuration("OPTIPLAY_IP_SWEEP", 10*time.Minute); err != nil {
		return Config{}, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: duration must be positive", key)
	}
	return d, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
