package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type AppConfig struct {
	WSAddr   string
	HTTPAddr string

	StoreDriver      string
	RedisURL         string
	RedisFinishedTTL time.Duration
	DatabaseURL      string

	DisconnectGrace time.Duration
	InviteTTL       time.Duration
	DefaultRating   int
	MaxRooms        int

	AllowedOrigins []string

	TimeControlsFile string
	MessagesDir      string

	ShutdownTimeout time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		WSAddr:           ":8080",
		HTTPAddr:         ":8081",
		StoreDriver:      StoreMemory,
		RedisFinishedTTL: 30 * 24 * time.Hour,
		DisconnectGrace:  15 * time.Second,
		InviteTTL:        10 * time.Minute,
		DefaultRating:    1200,
		MaxRooms:         10000,
		ShutdownTimeout:  10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}

	if v := strings.TrimSpace(os.Getenv("STORE_DRIVER")); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	var err error
	if cfg.RedisFinishedTTL, err = duration("REDIS_FINISHED_TTL", cfg.RedisFinishedTTL); err != nil {
		return nil, err
	}
	if cfg.DisconnectGrace, err = duration("DISCONNECT_GRACE", cfg.DisconnectGrace); err != nil {
		return nil, err
	}
	if cfg.InviteTTL, err = duration("INVITE_TTL", cfg.InviteTTL); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = duration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}

	if v := strings.TrimSpace(os.Getenv("DEFAULT_RATING")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("DEFAULT_RATING must be a positive integer, got %q", v)
		}
		cfg.DefaultRating = n
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRooms = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	cfg.TimeControlsFile = strings.TrimSpace(os.Getenv("TIME_CONTROLS_FILE"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when STORE_DRIVER=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
