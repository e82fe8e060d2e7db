// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type StorageConfig struct {
	ConnectionString string
	TasksTable       string
	EventsQueue      string
}

type RedisConfig struct {
	ConnectionString string
	CacheTTL         time.Duration
	DeduperTTL       time.Duration
	StatusChannel    string
}

type AuthConfig struct {
	// LocalMode is "hs256" when tokens are signed with SharedSecret instead of Auth0 keys.
	LocalMode     string
	SharedSecret  string
	Auth0Domain   string
	Auth0Audience string
	JWKSCacheTTL  time.Duration
}

type Config struct {
	ListenAddr string
	LogLevel   log.Level
	Storage    StorageConfig
	Redis      RedisConfig
	Auth       AuthConfig
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		Storage: StorageConfig{
			ConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
			TasksTable:       getEnv("TASKS_TABLE", "Tasks"),
			EventsQueue:      getEnv("EVENTS_QUEUE", "task-status-events"),
		},
		Redis: RedisConfig{
			ConnectionString: os.Getenv("REDIS_CONNECTION_STRING"),
			StatusChannel:    getEnv("STATUS_CHANNEL", "task-status-changed"),
		},
		Auth: AuthConfig{
			LocalMode:     strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")),
			SharedSecret:  os.Getenv("LOCAL_AUTH_SHARED_SECRET"),
			Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
			Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
		},
	}

	var err error
	if cfg.LogLevel, err = parseLogLevel(); err != nil {
		return nil, err
	}
	if cfg.Redis.CacheTTL, err = getDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Redis.DeduperTTL, err = getDuration("DEDUPER_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Auth.JWKSCacheTTL, err = getDuration("JWKS_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}

	if cfg.Storage.ConnectionString == "" {
		return nil, errors.New("missing storage config")
	}
	if cfg.Redis.ConnectionString == "" {
		return nil, errors.New("missing redis config")
	}
	switch cfg.Auth.LocalMode {
	case "":
		if cfg.Auth.Auth0Domain == "" || cfg.Auth.Auth0Audience == "" {
			return nil, errors.New("missing Auth0 config")
		}
	case "hs256":
		if cfg.Auth.SharedSecret == "" {
			return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return nil, fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", cfg.Auth.LocalMode)
	}
	return cfg, nil
}

// RedisOptions accepts both redis:// URLs and the "host:port,password=...,ssl=true"
// form used by Azure Cache for Redis.
func (c RedisConfig) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.ConnectionString)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(c.ConnectionString, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string: %w", err)
	}
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func parseLogLevel() (log.Level, error) {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		return log.DebugLevel, nil
	}
	lvl, err := log.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
