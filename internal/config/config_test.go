package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load("does-not-exist")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("expected 30m token ttl, got %v", cfg.TokenTTL)
	}
	if cfg.WSAuthTimeout != 10*time.Second {
		t.Errorf("expected 10s auth timeout, got %v", cfg.WSAuthTimeout)
	}
	if cfg.WSSendBuffer != 256 {
		t.Errorf("expected send buffer 256, got %d", cfg.WSSendBuffer)
	}
	if cfg.MaxUploadSize != 10<<20 {
		t.Errorf("expected 10MB upload limit, got %d", cfg.MaxUploadSize)
	}
	if cfg.StoreDriver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.StoreDriver)
	}
	if cfg.JWTSecret != devJWTSecret {
		t.Errorf("expected development secret fallback, got %q", cfg.JWTSecret)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WS_AUTH_TIMEOUT", "3s")
	t.Setenv("STORE_DRIVER", "Postgres")

	cfg, err := Load("does-not-exist")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.WSAuthTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.WSAuthTimeout)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.StoreDriver)
	}
	if cfg.Development() {
		t.Error("production must not report development")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret in production": {"APP_ENV": "production", "JWT_SECRET": ""},
		"unknown store driver":         {"APP_ENV": "development", "STORE_DRIVER": "sqlite"},
		"unknown media provider":       {"APP_ENV": "development", "MEDIA_PROVIDER": "ftp"},
		"cloudinary without creds":     {"APP_ENV": "development", "MEDIA_PROVIDER": "cloudinary"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load("does-not-exist"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
