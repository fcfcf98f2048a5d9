package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage drivers for the accessory cache.
const (
	StorageDriverFile   = "file"
	StorageDriverSQLite = "sqlite"
)

// Options are the process-level settings given on the command line or
// through the environment.
type Options struct {
	// StoragePath holds config.json, the accessory cache and plugin data.
	StoragePath string
	// PluginPaths are additional directories searched for plugin manifests.
	PluginPaths []string

	Debug        bool
	KeepOrphans  bool
	HideQRCode   bool
	NoTimestamps bool
	// JSONLogs switches the log encoder to JSON.
	JSONLogs bool

	// DiscoveryTimeout bounds how long the bridge waits for platforms to
	// report their accessories. Zero waits forever.
	DiscoveryTimeout time.Duration
	// ShutdownGrace bounds how long teardown waits for shutdown hooks.
	ShutdownGrace time.Duration

	StorageDriver string

	// APIAddr is the listen address of the management API. Empty disables it.
	APIAddr string

	// IPCFD is an inherited file descriptor that receives events as JSON
	// lines. Zero disables it.
	IPCFD int

	MQTTBroker string
	MQTTTopic  string
}

// DefaultOptions returns the options derived from the environment.
func DefaultOptions() Options {
	return Options{
		StoragePath:      envString("HOMEBRIDGE_STORAGE_PATH", defaultStoragePath()),
		PluginPaths:      envList("HOMEBRIDGE_PLUGIN_PATH"),
		Debug:            envBool("HOMEBRIDGE_DEBUG"),
		KeepOrphans:      envBool("HOMEBRIDGE_KEEP_ORPHANS"),
		HideQRCode:       envBool("HOMEBRIDGE_HIDE_QR"),
		NoTimestamps:     envBool("HOMEBRIDGE_NO_TIMESTAMPS"),
		JSONLogs:         envBool("HOMEBRIDGE_JSON_LOGS"),
		DiscoveryTimeout: envDuration("HOMEBRIDGE_DISCOVERY_TIMEOUT", 0),
		ShutdownGrace:    envDuration("HOMEBRIDGE_SHUTDOWN_GRACE", 5*time.Second),
		StorageDriver:    envString("HOMEBRIDGE_STORAGE_DRIVER", StorageDriverFile),
		APIAddr:          envString("HOMEBRIDGE_API_ADDR", ""),
		IPCFD:            envInt("HOMEBRIDGE_IPC_FD", 0),
		MQTTBroker:       envString("HOMEBRIDGE_MQTT_BROKER", ""),
		MQTTTopic:        envString("HOMEBRIDGE_MQTT_TOPIC", "homebridge/events"),
	}
}

// ConfigPath is the location of config.json.
func (o Options) ConfigPath() string {
	return filepath.Join(o.StoragePath, FileName)
}

// PersistPath is the directory of the key-value store.
func (o Options) PersistPath() string {
	return filepath.Join(o.StoragePath, "persist")
}

// CachePath is the directory of the accessory cache.
func (o Options) CachePath() string {
	return filepath.Join(o.StoragePath, "accessories")
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".homebridge"
	}
	return filepath.Join(home, ".homebridge")
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
