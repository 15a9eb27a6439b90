package store

import (
	"fmt"
	"strings"
	"time"
)

// Config selects a backend.
type Config struct {
	Backend string
	URL     string
	APIKey  string
	Path    string
	Timeout time.Duration
}

// New creates a Store for the configured backend.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "qdrant":
		return NewQdrant(QdrantConfig{URL: cfg.URL, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("bolt store requires a path")
		}
		return OpenBolt(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend: %s", cfg.Backend)
	}
}
