// Package config loads the server settings from the environment under
// the COLLAB_ prefix.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"localhost:8080"`

	// DatabasePath is the sqlite database location.
	DatabasePath string `envconfig:"DATABASE_PATH" default:"collab.sqlite3"`

	// BackupInterval is how often room documents are merged back into
	// the durable update log.
	BackupInterval time.Duration `envconfig:"BACKUP_INTERVAL" default:"5s"`

	// AwarenessTimeout is the liveness window after which silent
	// presence entries are pruned from their rooms.
	AwarenessTimeout time.Duration `envconfig:"AWARENESS_TIMEOUT" default:"30s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("collab", &c); err != nil {
		return c, fmt.Errorf("failed to process environment: %w", err)
	}
	return c, nil
}
