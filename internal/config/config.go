// Package config loads runtime settings from defaults, an optional
// config.yaml and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-me"

type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type Config struct {
	Port           string
	AllowedOrigins []string
	AppEnv         string
	LogLevel       string

	JWTSecret string
	TokenTTL  time.Duration

	StoreDriver   string
	DatabaseURL   string
	MongoURL      string
	MongoDatabase string

	MediaProvider string
	UploadDir     string
	MaxUploadSize int64
	Cloudinary    Cloudinary

	WSAuthTimeout    time.Duration
	WSSendBuffer     int
	WSMaxMessageSize int64
}

// Development reports whether the server runs with development defaults.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Load reads configuration. fileName is the config file base name without
// extension; a missing file is not an error.
func Load(fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOKEN_TTL", "30m")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("MONGODB_URL", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DATABASE", "getchat")
	v.SetDefault("MEDIA_PROVIDER", "local")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_SIZE", "10MB")
	v.SetDefault("CLOUDINARY_FOLDER", "getchat")
	v.SetDefault("WS_AUTH_TIMEOUT", "10s")
	v.SetDefault("WS_SEND_BUFFER", 256)
	v.SetDefault("WS_MAX_MESSAGE_SIZE", "64KB")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("PORT"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		AppEnv:         strings.ToLower(v.GetString("APP_ENV")),
		LogLevel:       v.GetString("LOG_LEVEL"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		TokenTTL:       v.GetDuration("TOKEN_TTL"),
		StoreDriver:    strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		MongoURL:       v.GetString("MONGODB_URL"),
		MongoDatabase:  v.GetString("MONGODB_DATABASE"),
		MediaProvider:  strings.ToLower(v.GetString("MEDIA_PROVIDER")),
		UploadDir:      v.GetString("UPLOAD_DIR"),
		MaxUploadSize:  int64(v.GetSizeInBytes("MAX_UPLOAD_SIZE")),
		Cloudinary: Cloudinary{
			CloudName: v.GetString("CLOUDINARY_CLOUD_NAME"),
			APIKey:    v.GetString("CLOUDINARY_API_KEY"),
			APISecret: v.GetString("CLOUDINARY_API_SECRET"),
			Folder:    v.GetString("CLOUDINARY_FOLDER"),
		},
		WSAuthTimeout:    v.GetDuration("WS_AUTH_TIMEOUT"),
		WSSendBuffer:     v.GetInt("WS_SEND_BUFFER"),
		WSMaxMessageSize: int64(v.GetSizeInBytes("WS_MAX_MESSAGE_SIZE")),
	}

	if cfg.JWTSecret == "" && cfg.Development() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	switch c.StoreDriver {
	case "memory", "postgres", "mongo":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.MediaProvider {
	case "local":
	case "cloudinary":
		if c.Cloudinary.CloudName == "" || c.Cloudinary.APIKey == "" || c.Cloudinary.APISecret == "" {
			return fmt.Errorf("cloudinary credentials are required when MEDIA_PROVIDER=cloudinary")
		}
	default:
		return fmt.Errorf("unknown MEDIA_PROVIDER %q", c.MediaProvider)
	}
	if c.WSAuthTimeout <= 0 {
		return fmt.Errorf("WS_AUTH_TIMEOUT must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
