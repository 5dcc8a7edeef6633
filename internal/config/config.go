package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Backend-as-a-service boundary. Both are required: the daemon refuses
	// to start without them rather than limping along half-configured.
	BackendURL string
	APIKey     string

	// Shared secret handed to injected presentation runtimes so they can
	// authenticate outbound API calls. Never shipped in static assets.
	SharedSecret string

	// Where the consumer command finds the relay daemon.
	DaemonURL string

	// Interactive sign-in. Optional: only the consumer's login command
	// needs them.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Subscription liveness check period. Must stay safely under the 30s
	// idle-eviction budget of the hosting environment.
	KeepaliveInterval time.Duration

	// Minimum interval between scary sends to the same recipient.
	ScaryCooldown time.Duration

	// Sent when the initiator picks no sticker explicitly.
	DefaultStickerURL string
}

// Load reads configuration from environment variables with sensible defaults.
// BACKEND_URL and BACKEND_API_KEY have no defaults and missing values are a
// hard error.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "poltergeist",
		DBPassword: "",
		DBName:     "poltergeist",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		KeepaliveInterval: 24 * time.Second,
		ScaryCooldown:     60 * time.Second,

		DaemonURL: "http://localhost:8080",
	}

	cfg.BackendURL = os.Getenv("BACKEND_URL")
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("BACKEND_URL is required")
	}

	cfg.APIKey = os.Getenv("BACKEND_API_KEY")
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("BACKEND_API_KEY is required")
	}

	cfg.SharedSecret = os.Getenv("SHARED_SECRET")

	if url := os.Getenv("DAEMON_URL"); url != "" {
		cfg.DaemonURL = url
	}

	cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	cfg.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	cfg.OAuthRedirectURL = os.Getenv("OAUTH_REDIRECT_URL")

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if interval := os.Getenv("KEEPALIVE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_INTERVAL: %w", err)
		}
		if d <= 0 || d >= 30*time.Second {
			return nil, fmt.Errorf("KEEPALIVE_INTERVAL must be positive and under 30s, got %s", d)
		}
		cfg.KeepaliveInterval = d
	}

	if window := os.Getenv("SCARY_COOLDOWN"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid SCARY_COOLDOWN: %w", err)
		}
		cfg.ScaryCooldown = d
	}

	if url := os.Getenv("DEFAULT_STICKER_URL"); url != "" {
		cfg.DefaultStickerURL = url
	}

	return cfg, nil
}
