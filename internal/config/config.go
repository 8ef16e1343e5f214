package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is assembled from an optional YAML file (CONFIG_FILE) with
// environment variables taking precedence over file values.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	StoreBackend string `yaml:"store_backend"` // postgres | redis | memory
	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`

	MoveDeadline      time.Duration   `yaml:"-"`
	MoveDeadlineHours int             `yaml:"move_deadline_hours"`
	DeadlineWarnings  []time.Duration `yaml:"-"`
	WarningsRaw       string          `yaml:"deadline_warnings"`
	ReconcileInterval time.Duration   `yaml:"reconcile_interval"`

	EventWebhookURL string   `yaml:"event_webhook_url"`
	WSQueueSize     int      `yaml:"ws_queue_size"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// Load builds the configuration.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8080",
		StoreBackend:      "memory",
		MoveDeadlineHours: 72,
		WarningsRaw:       "24h,6h,1h",
		ReconcileInterval: 5 * time.Minute,
		WSQueueSize:       32,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.StoreBackend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MOVE_DEADLINE_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MoveDeadlineHours = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEADLINE_WARNINGS")); v != "" {
		cfg.WarningsRaw = v
	}
	if v := strings.TrimSpace(os.Getenv("RECONCILE_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReconcileInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("EVENT_WEBHOOK_URL")); v != "" {
		cfg.EventWebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WSQueueSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	cfg.MoveDeadline = time.Duration(cfg.MoveDeadlineHours) * time.Hour
	warnings, err := parseWarnings(cfg.WarningsRaw)
	if err != nil {
		return nil, err
	}
	cfg.DeadlineWarnings = warnings

	switch cfg.StoreBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis store")
		}
	case "memory":
		// dev/test only, nothing to validate
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func parseWarnings(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid deadline warning %q", s)
		}
		out = append(out, d)
	}
	return out, nil
}
