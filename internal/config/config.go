// Package config holds the environment-driven configuration for the
// coordination server.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the full server configuration. Both knobs the process needs
// from outside (broker endpoint, data directory) come from the
// environment; everything else has sensible defaults.
type Config struct {
	// NATSURL is the broker endpoint, from CREWMESH_NATS_URL.
	NATSURL string
	// DataDir holds the SQLite database, from CREWMESH_DATA_DIR.
	DataDir string
	// FetchWait bounds how long stream reads wait on an empty stream,
	// from CREWMESH_FETCH_WAIT_MS.
	FetchWait time.Duration
	// StatusWindow is how many recent status messages a board read
	// considers, from CREWMESH_STATUS_WINDOW.
	StatusWindow int
}

// Load builds a Config from the environment, falling back to defaults.
func Load() Config {
	return Config{
		NATSURL:      getEnvOrDefault("CREWMESH_NATS_URL", "nats://localhost:4222"),
		DataDir:      getEnvOrDefault("CREWMESH_DATA_DIR", defaultDataDir()),
		FetchWait:    time.Duration(getEnvIntOrDefault("CREWMESH_FETCH_WAIT_MS", 2000)) * time.Millisecond,
		StatusWindow: getEnvIntOrDefault("CREWMESH_STATUS_WINDOW", 20),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crewmesh"
	}
	return filepath.Join(home, ".crewmesh")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
