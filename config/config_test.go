package config

import (
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("CHAT_ENCRYPTION_KEY", testKey)
	t.Setenv("CHAT_PREVIOUS_KEYS", "k0:"+testKey)
	t.Setenv("ENABLED_KINDS", "Instant")
	t.Setenv("BODY_LIMIT_MB", "2")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BodyLimitBytes != 2*1024*1024 {
		t.Fatalf("body limit = %d", cfg.BodyLimitBytes)
	}
	if len(cfg.EnabledKinds) != 1 || cfg.EnabledKinds[0] != "instant" {
		t.Fatalf("kinds = %v", cfg.EnabledKinds)
	}
	if len(cfg.ChatPreviousKeys["k0"]) != 32 {
		t.Fatalf("previous key not parsed: %v", cfg.ChatPreviousKeys)
	}
	if !strings.Contains(cfg.DSN(), "port=6543") {
		t.Fatalf("dsn = %s", cfg.DSN())
	}
}

func TestLoadFallsBackToJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("JWT_SECRET", "legacy")
	t.Setenv("CHAT_ENCRYPTION_KEY", testKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(cfg.JWTSecret) != "legacy" {
		t.Fatalf("jwt secret = %q", cfg.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:       []byte("x"),
			ChatKeyID:       "k1",
			ChatKey:         make([]byte, 32),
			EnabledKinds:    []string{"instant"},
			ExternalTimeout: 1,
		}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no jwt", func(c *Config) { c.JWTSecret = nil }, "JWT secret"},
		{"short key", func(c *Config) { c.ChatKey = make([]byte, 16) }, "CHAT_ENCRYPTION_KEY"},
		{"bad kind", func(c *Config) { c.EnabledKinds = []string{"courier"} }, "unknown request kind"},
		{"key id clash", func(c *Config) { c.ChatPreviousKeys = map[string][]byte{"k1": make([]byte, 32)} }, "collides"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestParseKeyListRejectsMalformed(t *testing.T) {
	if _, err := parseKeyList("nocolon"); err == nil {
		t.Fatal("expected error for entry without id")
	}
	if _, err := parseKeyList("k0:zz"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
}
