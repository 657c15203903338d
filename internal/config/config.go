package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Identity
	UserID      string
	DisplayName string
	AvatarURL   string

	Env string // "development" or "production"

	// Signal store
	StoreBackend string // "memory" or "redis"
	RedisURL     string // e.g., "redis://localhost:6379"

	// Handled-call ledger
	LedgerDir string
	LedgerTTL time.Duration

	// Call history (optional)
	DatabaseURL string

	// Protocol timings
	RingTimeout    time.Duration
	AcceptGrace    time.Duration
	CallsPerMinute int

	// Transport / SFU
	SFUURL       string
	RoomTokenKey string
	ICESTUNURLs  []string
	ICETURNURLs  []string
	TURNUsername string
	TURNPassword string

	// Agent behavior
	AutoAnswer bool
}

// Load reads configuration from environment variables.
// In production, these come from the host. In dev, from .env via docker-compose.
func Load() (*Config, error) {
	cfg := &Config{
		UserID:      os.Getenv("DIALTONE_USER_ID"),
		DisplayName: os.Getenv("DIALTONE_DISPLAY_NAME"),
		AvatarURL:   os.Getenv("DIALTONE_AVATAR_URL"),
		Env:         getEnvOrDefault("APP_ENV", "development"),

		StoreBackend: getEnvOrDefault("STORE_BACKEND", "memory"),
		RedisURL:     os.Getenv("REDIS_URL"),

		LedgerDir: getEnvOrDefault("LEDGER_DIR", "./data"),
		LedgerTTL: getEnvDuration("LEDGER_TTL", 5*time.Minute),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RingTimeout:    getEnvDuration("RING_TIMEOUT", 120*time.Second),
		AcceptGrace:    getEnvDuration("ACCEPT_GRACE", 2*time.Second),
		CallsPerMinute: getEnvInt("CALLS_PER_MINUTE", 10),

		SFUURL:       getEnvOrDefault("SFU_URL", "ws://localhost:7880/ws"),
		RoomTokenKey: os.Getenv("ROOM_TOKEN_KEY"),

		AutoAnswer: getEnvBool("AUTO_ANSWER", false),
	}

	cfg.ICESTUNURLs = splitEnv("ICE_STUN_URLS", "stun:stun.l.google.com:19302")
	cfg.ICETURNURLs = splitEnv("ICE_TURN_URLS", "")
	cfg.TURNUsername = os.Getenv("TURN_USERNAME")
	cfg.TURNPassword = os.Getenv("TURN_PASSWORD")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.UserID == "" {
		return fmt.Errorf("DIALTONE_USER_ID is required")
	}
	if c.StoreBackend != "memory" && c.StoreBackend != "redis" {
		return fmt.Errorf("STORE_BACKEND must be \"memory\" or \"redis\", got %q", c.StoreBackend)
	}
	if c.StoreBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// splitEnv splits a comma-separated env var into a slice
func splitEnv(key, defaultVal string) []string {
	val := os.Getenv(key)
	if val == "" {
		val = defaultVal
	}
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
