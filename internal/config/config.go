// Package config holds the bridge configuration document and the process
// options. The document is read once at startup, normalised to sane
// defaults, and rewritten whenever a plugin asks for a configuration change.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// Defaults applied when the document is missing or carries invalid values.
const (
	DefaultBridgeName = "Homebridge"
	DefaultUsername   = "CC:22:3D:E3:CE:30"
	DefaultPinCode    = "031-45-154"
)

// Entry kinds addressed by configuration changes.
const (
	KindAccessories = "accessories"
	KindPlatforms   = "platforms"
)

// Bridge is the identity of the primary bridge.
type Bridge struct {
	Name         string `json:"name"`
	Username     string `json:"username"`
	Pin          string `json:"pin"`
	SetupID      string `json:"setupID,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Port         int    `json:"port,omitempty"`
}

// PortRange is the closed range external accessories are published on.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// MDNS tunes the mDNS advertisement.
type MDNS struct {
	Interface string `json:"interface,omitempty"`
}

// Config is the configuration document. Keys this host does not know are
// kept in Extra and written back unchanged.
type Config struct {
	Bridge      Bridge          `json:"bridge"`
	Accessories []plugin.Config `json:"accessories"`
	Platforms   []plugin.Config `json:"platforms"`
	// Plugins is an optional allow-list. Nil means every plugin is active.
	Plugins []string   `json:"plugins,omitempty"`
	Ports   *PortRange `json:"ports,omitempty"`
	MDNS    *MDNS      `json:"mdns,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownKeys = map[string]bool{
	"bridge":      true,
	"accessories": true,
	"platforms":   true,
	"plugins":     true,
	"ports":       true,
	"mdns":        true,
}

// Default returns the document used when none exists.
func Default() *Config {
	return &Config{
		Bridge: Bridge{
			Name:     DefaultBridgeName,
			Username: DefaultUsername,
			Pin:      DefaultPinCode,
		},
		Accessories: []plugin.Config{},
		Platforms:   []plugin.Config{},
	}
}

// UnmarshalJSON decodes the document and keeps unknown keys.
func (c *Config) UnmarshalJSON(data []byte) error {
	type document Config
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if knownKeys[key] {
			continue
		}
		if doc.Extra == nil {
			doc.Extra = make(map[string]json.RawMessage)
		}
		doc.Extra[key] = value
	}

	*c = Config(doc)
	return nil
}

// MarshalJSON encodes the document including the preserved unknown keys.
func (c Config) MarshalJSON() ([]byte, error) {
	type document Config
	known, err := json.Marshal(document(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range c.Extra {
		if !knownKeys[key] {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Normalize replaces invalid values with defaults, logging each correction.
// It never fails.
func (c *Config) Normalize(logger *zap.Logger) {
	if c.Bridge.Name == "" {
		c.Bridge.Name = DefaultBridgeName
	}

	username := strings.ToUpper(strings.TrimSpace(c.Bridge.Username))
	if !hap.ValidUsername(username) {
		logger.Warn("Invalid bridge username, using default",
			zap.String("username", c.Bridge.Username),
			zap.String("default", DefaultUsername))
		username = DefaultUsername
	}
	c.Bridge.Username = username

	if !hap.ValidPinCode(c.Bridge.Pin) {
		logger.Warn("Invalid or insecure bridge pin, using default",
			zap.String("pin", c.Bridge.Pin),
			zap.String("default", DefaultPinCode))
		c.Bridge.Pin = DefaultPinCode
	}

	if c.Bridge.SetupID != "" && !hap.ValidSetupID(c.Bridge.SetupID) {
		logger.Warn("Invalid setupID, ignoring it", zap.String("setupID", c.Bridge.SetupID))
		c.Bridge.SetupID = ""
	}

	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		logger.Warn("Invalid bridge port, choosing one automatically", zap.Int("port", c.Bridge.Port))
		c.Bridge.Port = 0
	}

	if c.Ports != nil {
		if c.Ports.Start > c.Ports.End {
			logger.Error("Invalid port pool: start is greater than end, external accessories get random ports",
				zap.Int("start", c.Ports.Start),
				zap.Int("end", c.Ports.End))
			c.Ports = nil
		} else if c.Ports.Start <= 0 || c.Ports.End > 65535 {
			logger.Error("Invalid port pool: out of range, external accessories get random ports",
				zap.Int("start", c.Ports.Start),
				zap.Int("end", c.Ports.End))
			c.Ports = nil
		}
	}

	if c.Accessories == nil {
		c.Accessories = []plugin.Config{}
	}
	if c.Platforms == nil {
		c.Platforms = []plugin.Config{}
	}
}

// SetupID returns the configured setup ID or one derived from the username.
func (c *Config) SetupID() string {
	if c.Bridge.SetupID != "" {
		return c.Bridge.SetupID
	}
	return hap.GenerateSetupID(c.Bridge.Username)
}

// Entries returns the entry list of the given kind.
func (c *Config) Entries(kind string) ([]plugin.Config, error) {
	switch kind {
	case KindAccessories:
		return c.Accessories, nil
	case KindPlatforms:
		return c.Platforms, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// SetEntries replaces the entry list of the given kind.
func (c *Config) SetEntries(kind string, entries []plugin.Config) error {
	switch kind {
	case KindAccessories:
		c.Accessories = entries
	case KindPlatforms:
		c.Platforms = entries
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

// Clone returns a deep copy obtained through a JSON round trip.
func (c *Config) Clone() (*Config, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to copy config: %w", err)
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy config: %w", err)
	}
	return &out, nil
}
