// Package config loads the server configuration from the environment.
//
// Values come from, in order of precedence:
//  1. real environment variables
//  2. a .env file in the working directory, if present (godotenv never
//     overrides variables that are already set)
//  3. the defaults below
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Port int

	DBDriver      string // "sqlite" or "mongo"
	DBPath        string
	MongoURI      string
	MongoDatabase string

	RedisURL     string // empty disables the listing cache
	ListCacheTTL time.Duration

	SecretKey  string
	SessionTTL time.Duration
	BcryptCost int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"PORT":             8080,
	"DB_DRIVER":        "sqlite",
	"DB_PATH":          "data/ecohacks.db",
	"MONGO_URI":        "",
	"MONGO_DATABASE":   "ecohacks",
	"REDIS_URL":        "",
	"LIST_CACHE_TTL":   "30s",
	"SECRET_KEY":       "",
	"SESSION_TTL":      "168h",
	"BCRYPT_COST":      12,
	"GOOGLE_CLIENT_ID": "",
	// optional: only the authorization-code flow needs these
	"GOOGLE_CLIENT_SECRET": "",
	"GOOGLE_REDIRECT_URL":  "",
	"ALLOWED_ORIGINS":      "http://localhost:3000",
	"RATE_LIMIT_RPS":       5.0,
	"RATE_LIMIT_BURST":     10,
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "text",
}

// Load reads envFiles (default ".env") into the environment and builds the
// config. The returned error lists every missing or invalid key at once.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{
		Port:               v.GetInt("PORT"),
		DBDriver:           strings.ToLower(v.GetString("DB_DRIVER")),
		DBPath:             v.GetString("DB_PATH"),
		MongoURI:           v.GetString("MONGO_URI"),
		MongoDatabase:      v.GetString("MONGO_DATABASE"),
		RedisURL:           v.GetString("REDIS_URL"),
		ListCacheTTL:       v.GetDuration("LIST_CACHE_TTL"),
		SecretKey:          v.GetString("SECRET_KEY"),
		SessionTTL:         v.GetDuration("SESSION_TTL"),
		BcryptCost:         v.GetInt("BCRYPT_COST"),
		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  v.GetString("GOOGLE_REDIRECT_URL"),
		AllowedOrigins:     splitList(v.GetString("ALLOWED_ORIGINS")),
		RateLimitRPS:       v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:     v.GetInt("RATE_LIMIT_BURST"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port < 1 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			add("DB_PATH is required when DB_DRIVER=sqlite")
		}
	case "mongo":
		if c.MongoURI == "" {
			add("MONGO_URI is required when DB_DRIVER=mongo")
		}
		if c.MongoDatabase == "" {
			add("MONGO_DATABASE is required when DB_DRIVER=mongo")
		}
	default:
		add("DB_DRIVER must be sqlite or mongo, got %q", c.DBDriver)
	}

	if len(c.SecretKey) < 16 {
		add("SECRET_KEY is required and must be at least 16 characters")
	}
	if c.SessionTTL <= 0 {
		add("SESSION_TTL must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		add("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.GoogleClientID == "" {
		add("GOOGLE_CLIENT_ID is required")
	}
	if (c.GoogleClientSecret == "") != (c.GoogleRedirectURL == "") {
		add("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL must be set together")
	}
	if c.ListCacheTTL <= 0 {
		add("LIST_CACHE_TTL must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		add("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GoogleCodeFlow reports whether the redirect-based Google login is configured.
func (c *Config) GoogleCodeFlow() bool {
	return c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
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
