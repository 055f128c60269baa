package config

import (
	"os"
	"time"
)

// Config is the process configuration, read once at startup from the
// environment.
type Config struct {
	// Addr is the listen address of the HTTP gateway.
	Addr string
	// PublicOrigin is this system's externally reachable origin; callback
	// URLs handed to the webhook are built from it.
	PublicOrigin string
	// WebhookURL is the default destination for forwarded recordings. May be
	// empty; a per-request override or a runtime settings update can still
	// supply one.
	WebhookURL string
	// DBPath is the DuckDB DSN for the event history. Empty means in-memory.
	DBPath string
	// JobTTL is how long an untouched job survives before the sweeper
	// reclaims it.
	JobTTL time.Duration
	// SweepInterval is the period of the retention sweep loop.
	SweepInterval time.Duration
	// ForwardTimeout bounds the outbound webhook call.
	ForwardTimeout time.Duration
}

// FromEnv builds the configuration from RELAY_* environment variables,
// falling back to defaults suitable for local development.
func FromEnv() Config {
	return Config{
		Addr:           envString("RELAY_ADDR", ":8080"),
		PublicOrigin:   envString("RELAY_PUBLIC_ORIGIN", "http://localhost:8080"),
		WebhookURL:     os.Getenv("RELAY_WEBHOOK_URL"),
		DBPath:         os.Getenv("RELAY_DB_DSN"),
		JobTTL:         envDuration("RELAY_JOB_TTL", 30*time.Minute),
		SweepInterval:  envDuration("RELAY_SWEEP_INTERVAL", 5*time.Minute),
		ForwardTimeout: envDuration("RELAY_FORWARD_TIMEOUT", 60*time.Second),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
