package plugin

import (
	"sync"

	"homebridge/pkg/hap"
)

// PlatformAccessory is an accessory owned by a dynamic platform. The host
// caches it across restarts and hands it back to the platform through
// ConfigureAccessory.
type PlatformAccessory struct {
	*hap.Accessory

	// PluginName and PlatformName identify the owning platform. They are
	// filled in when the accessory is registered.
	PluginName   string
	PlatformName string

	mu      sync.RWMutex
	context map[string]any
}

// NewPlatformAccessory creates an accessory with the given stable ID.
func NewPlatformAccessory(displayName, uuid string, category hap.Category) *PlatformAccessory {
	acc := hap.NewAccessory(displayName, uuid)
	acc.Category = category
	return &PlatformAccessory{
		Accessory: acc,
		context:   make(map[string]any),
	}
}

// Context returns a copy of the plugin-owned context persisted with the
// accessory.
func (p *PlatformAccessory) Context() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.context))
	for k, v := range p.context {
		out[k] = v
	}
	return out
}

// SetContext stores a context value.
func (p *PlatformAccessory) SetContext(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.context[key] = value
}

// ReplaceContext replaces the whole context.
func (p *PlatformAccessory) ReplaceContext(ctx map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.context = make(map[string]any, len(ctx))
	for k, v := range ctx {
		p.context[k] = v
	}
}

// Owner returns the fully qualified owner key "plugin.platform".
func (p *PlatformAccessory) Owner() string {
	if p.PluginName == "" {
		return p.PlatformName
	}
	return p.PluginName + "." + p.PlatformName
}
