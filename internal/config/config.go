package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the server's runtime settings, loaded from the environment.
type Config struct {
	ListenAddr string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string

	JWTSecret string

	// NodeID distinguishes server instances in generated revision ids.
	NodeID int64

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment. JWT_SECRET and
// MONGO_URI have no sane defaults and are required.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getenv("MONGO_DB", "collabnotes"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		ShutdownTimeout: 15 * time.Second,
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if raw := os.Getenv("NODE_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid NODE_ID %q: %w", raw, err)
		}
		cfg.NodeID = id
	}

	if raw := os.Getenv("SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", raw, err)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
