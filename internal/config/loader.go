package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"homebridge/internal/storage"

	"go.uber.org/zap"
)

// ErrUnknownKind is returned for entry kinds other than accessories and
// platforms.
var ErrUnknownKind = errors.New("unknown configuration kind")

// FileName is the name of the configuration document in the storage path.
const FileName = "config.json"

// Loader reads and writes the configuration document.
type Loader struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewLoader creates a loader for the document at path.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger.Named("config"),
	}
}

// Path returns the document path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and normalises the document. A missing or unparsable document
// yields the defaults; Load never fails.
func (l *Loader) Load() *Config {
	l.logger.Info("Loading configuration", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("config.json not found, using a default bridge with no accessories",
				zap.String("path", l.path))
		} else {
			l.logger.Error("Failed to read config.json, using defaults", zap.Error(err))
		}
		cfg := Default()
		cfg.Normalize(l.logger)
		return cfg
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		l.logger.Error("Failed to parse config.json, using defaults",
			zap.String("path", l.path),
			zap.Error(err))
		cfg = Default()
	}
	cfg.Normalize(l.logger)

	l.logger.Info("Configuration loaded",
		zap.String("bridge", cfg.Bridge.Name),
		zap.Int("accessories", len(cfg.Accessories)),
		zap.Int("platforms", len(cfg.Platforms)))
	return cfg
}

// Save writes cfg atomically: the document is written to a temporary file in
// the same directory and renamed over the original.
func (l *Loader) Save(cfg *Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := storage.WriteFileAtomic(l.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	l.logger.Debug("Configuration saved", zap.String("path", l.path))
	return nil
}
