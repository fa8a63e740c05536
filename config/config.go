package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration. Key material lives here and is handed
// to constructors explicitly; nothing below main reads the environment.
type Config struct {
	Port            string
	BodyLimitBytes  int
	AllowedOrigins  string
	RateLimitMax    int
	RateLimitWindow time.Duration

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret []byte

	ChatKeyID        string
	ChatKey          []byte
	ChatPreviousKeys map[string][]byte
	ChatRatePerSec   float64
	ChatRateBurst    int

	LedgerURL        string
	NotificationsURL string
	ExternalTimeout  time.Duration
	Currency         string

	EnabledKinds   []string
	CloseCodeCost  int
	ConfigSeedFile string

	LogLevel  string
	LogFormat string
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	// Fiber default BodyLimit is 4 MiB; BODY_LIMIT_BYTES wins over BODY_LIMIT_MB.
	bodyLimit := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimit <= 0 {
		bodyLimit = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	cfg := &Config{
		Port:            envString("PORT", "8080"),
		BodyLimitBytes:  bodyLimit,
		AllowedOrigins:  envString("ALLOWED_ORIGINS", "*"),
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow: time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		DBHost:     envString("DB_HOST", "db"),
		DBPort:     envInt("DB_PORT", 5432),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  envString("DB_SSLMODE", "disable"),

		ChatKeyID:      envString("CHAT_ENCRYPTION_KEY_ID", "k1"),
		ChatRatePerSec: envFloat("CHAT_RATE_PER_SECOND", 1),
		ChatRateBurst:  envInt("CHAT_RATE_BURST", 5),

		LedgerURL:        envString("LEDGER_API_URL", "http://localhost:3001"),
		NotificationsURL: envString("NOTIFICATIONS_API_URL", "http://localhost:3002"),
		ExternalTimeout:  time.Duration(envInt("EXTERNAL_TIMEOUT_SECONDS", 10)) * time.Second,
		Currency:         envString("CURRENCY", "YER"),

		CloseCodeCost:  envInt("CLOSE_CODE_BCRYPT_COST", 10),
		ConfigSeedFile: os.Getenv("CONFIG_SEED_FILE"),

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "json"),
	}

	// Prefer JWT_SECRET_KEY, fallback to JWT_SECRET
	sec := os.Getenv("JWT_SECRET_KEY")
	if strings.TrimSpace(sec) == "" {
		sec = os.Getenv("JWT_SECRET")
	}
	cfg.JWTSecret = []byte(strings.TrimSpace(sec))

	for _, k := range strings.Split(envString("ENABLED_KINDS", "instant,specialized"), ",") {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			cfg.EnabledKinds = append(cfg.EnabledKinds, k)
		}
	}

	var err error
	if raw := strings.TrimSpace(os.Getenv("CHAT_ENCRYPTION_KEY")); raw != "" {
		if cfg.ChatKey, err = hex.DecodeString(raw); err != nil {
			return nil, fmt.Errorf("CHAT_ENCRYPTION_KEY is not hex: %w", err)
		}
	}
	if cfg.ChatPreviousKeys, err = parseKeyList(os.Getenv("CHAT_PREVIOUS_KEYS")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseKeyList parses "id:hex,id:hex".
func parseKeyList(raw string) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, hexKey, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("CHAT_PREVIOUS_KEYS entry %q must be id:hex", part)
		}
		key, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("CHAT_PREVIOUS_KEYS entry %q: %w", id, err)
		}
		out[strings.TrimSpace(id)] = key
	}
	return out, nil
}

// Validate checks the settings nothing can run without.
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("JWT secret not configured (set JWT_SECRET_KEY or JWT_SECRET)")
	}
	if len(c.ChatKey) < 32 {
		return errors.New("CHAT_ENCRYPTION_KEY must be at least 32 bytes of hex")
	}
	for id, k := range c.ChatPreviousKeys {
		if len(k) < 32 {
			return fmt.Errorf("previous chat key %q must be at least 32 bytes", id)
		}
		if id == c.ChatKeyID {
			return fmt.Errorf("previous chat key %q collides with the active key id", id)
		}
	}
	if len(c.EnabledKinds) == 0 {
		return errors.New("ENABLED_KINDS is empty")
	}
	for _, k := range c.EnabledKinds {
		if k != "instant" && k != "specialized" {
			return fmt.Errorf("unknown request kind %q in ENABLED_KINDS", k)
		}
	}
	if c.ExternalTimeout <= 0 {
		return errors.New("EXTERNAL_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}
