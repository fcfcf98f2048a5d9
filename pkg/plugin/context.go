package plugin

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Context provides dependencies to accessory and platform constructors.
type Context struct {
	// Logger is already named after the accessory or platform.
	Logger *zap.Logger

	// Config is the configuration entry the instance was created for. It is
	// nil for dynamic platforms without an entry.
	Config Config

	// API is the handle of the module that registered the constructor.
	API API
}

// NewContext creates a constructor context.
func NewContext(logger *zap.Logger, cfg Config, api API) *Context {
	return &Context{
		Logger: logger,
		Config: cfg,
		API:    api,
	}
}

// Config is one accessory or platform entry of the configuration document.
type Config map[string]any

// Name returns the "name" field.
func (c Config) Name() string {
	return c.String("name")
}

// AccessoryType returns the "accessory" identifier of an accessory entry.
func (c Config) AccessoryType() string {
	return c.String("accessory")
}

// PlatformType returns the "platform" identifier of a platform entry.
func (c Config) PlatformType() string {
	return c.String("platform")
}

// String returns a string field, or "" when absent or not a string.
func (c Config) String(key string) string {
	if c == nil {
		return ""
	}
	s, _ := c[key].(string)
	return s
}

// Decode unmarshals the entry into out, which is typically a plugin's own
// configuration struct with json tags.
func (c Config) Decode(out any) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Clone returns a shallow copy of the entry.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
