// Package demoplatform is a dynamic platform that keeps one light accessory
// per name listed in its configuration. Lights survive restarts through the
// accessory cache, and the light list can be changed at runtime through
// configuration requests, which rewrite the platform's entry in config.json.
package demoplatform

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"homebridge/internal/config"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// PluginName is the module name.
const PluginName = "homebridge-demo-platform"

// PlatformType is the platform identifier in config.json.
const PlatformType = "DemoPlatform"

const contextLight = "light"

func init() {
	plugin.Register(plugin.ModuleInfo{
		Name:        PluginName,
		Description: "Dynamic platform managing demo lights",
		Version:     "1.0.0",
		Priority:    plugin.PriorityDefault,
		Order:       20,
		Initializer: func(api plugin.API) error {
			api.RegisterDynamicPlatform(PlatformType, func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
				return New(ctx), nil
			})
			return nil
		},
	})
}

// Config is the platform's configuration entry.
type Config struct {
	Name   string   `json:"name"`
	Lights []string `json:"lights"`
}

// Platform manages the demo lights.
type Platform struct {
	api    plugin.API
	logger *zap.Logger

	// configured is false for an instance created without an entry. It
	// never removes cached lights.
	configured bool

	mu     sync.Mutex
	cfg    Config
	raw    plugin.Config
	lights map[string]*plugin.PlatformAccessory
}

// New creates the platform. Without a configuration entry it keeps the
// cached lights but adds none.
func New(ctx *plugin.Context) *Platform {
	p := &Platform{
		api:    ctx.API,
		logger: ctx.Logger,
		raw:    ctx.Config.Clone(),
		lights: make(map[string]*plugin.PlatformAccessory),

		configured: ctx.Config != nil,
	}
	if p.raw == nil {
		p.raw = plugin.Config{"platform": PlatformType}
	}
	if err := ctx.Config.Decode(&p.cfg); err != nil {
		p.logger.Warn("Invalid platform configuration, starting without lights", zap.Error(err))
	}
	ctx.API.OnDidFinishLaunching(p.sync)
	return p
}

// LightUUID returns the stable ID of the light with the given name.
func LightUUID(name string) string {
	return hap.GenerateUUID(PluginName + ":" + strings.ToLower(name))
}

// ConfigureAccessory takes a cached light back.
func (p *Platform) ConfigureAccessory(acc *plugin.PlatformAccessory) {
	name, _ := acc.Context()[contextLight].(string)
	if name == "" {
		name = acc.DisplayName
	}

	p.mu.Lock()
	p.lights[acc.UUID] = acc
	p.mu.Unlock()

	p.attach(acc)
	p.logger.Debug("Restored light from cache", zap.String("light", name))
}

// Lights returns the names of the lights currently managed, sorted.
func (p *Platform) Lights() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.lights))
	for _, acc := range p.lights {
		names = append(names, acc.DisplayName)
	}
	sort.Strings(names)
	return names
}

// HandleConfigurationRequest accepts {"add": "<name>"} and
// {"remove": "<name>"}. The answer lists the configured lights; the
// platform's entry is rewritten when the list changes.
func (p *Platform) HandleConfigurationRequest(request map[string]any, respond plugin.ConfigurationResponder) {
	add, _ := request["add"].(string)
	remove, _ := request["remove"].(string)

	p.mu.Lock()
	lights := append([]string(nil), p.cfg.Lights...)
	changed := false
	if add != "" && indexFold(lights, add) < 0 {
		lights = append(lights, add)
		changed = true
	}
	if remove != "" {
		if i := indexFold(lights, remove); i >= 0 {
			lights = append(lights[:i], lights[i+1:]...)
			changed = true
		}
	}

	resp := plugin.ConfigurationResponse{Response: map[string]any{"lights": lights}}
	if changed {
		p.cfg.Lights = lights
		entry := p.raw.Clone()
		entry["lights"] = lights
		p.raw = entry
		resp.Kind = config.KindPlatforms
		resp.Replace = true
		resp.Config = entry
	}
	p.mu.Unlock()

	respond(resp)
	if changed {
		p.sync()
	}
}

// sync registers lights that are configured but not cached and removes
// cached lights that are no longer configured.
func (p *Platform) sync() {
	p.mu.Lock()
	wanted := make(map[string]string, len(p.cfg.Lights))
	for _, name := range p.cfg.Lights {
		wanted[LightUUID(name)] = name
	}

	var added, removed []*plugin.PlatformAccessory
	for uuid, name := range wanted {
		if _, ok := p.lights[uuid]; ok {
			continue
		}
		acc := plugin.NewPlatformAccessory(name, uuid, hap.CategoryLightbulb)
		if _, err := acc.AddService(hap.NewService(hap.ServiceLightbulb, name, "")); err != nil {
			p.logger.Warn("Failed to create light", zap.String("light", name), zap.Error(err))
			continue
		}
		acc.SetContext(contextLight, name)
		p.lights[uuid] = acc
		added = append(added, acc)
	}
	for uuid, acc := range p.lights {
		if _, ok := wanted[uuid]; !ok && p.configured {
			delete(p.lights, uuid)
			removed = append(removed, acc)
		}
	}
	p.mu.Unlock()

	sort.Slice(added, func(i, j int) bool { return added[i].DisplayName < added[j].DisplayName })
	for _, acc := range added {
		p.attach(acc)
	}
	if len(added) > 0 {
		p.api.RegisterPlatformAccessories(PlatformType, added)
	}
	if len(removed) > 0 {
		p.api.UnregisterPlatformAccessories(PlatformType, removed)
	}
}

// attach wires the light's On characteristic so its state is persisted in
// the accessory context.
func (p *Platform) attach(acc *plugin.PlatformAccessory) {
	svc := acc.Service(hap.ServiceLightbulb)
	if svc == nil {
		return
	}
	on := svc.Characteristic(hap.CharacteristicOn)
	if stored, ok := acc.Context()["on"].(bool); ok {
		on.SetValue(stored)
	}
	on.OnSet(func(value any) error {
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("light %s: expected bool, got %T", acc.DisplayName, value)
		}
		acc.SetContext("on", v)
		p.logger.Info("Light set", zap.String("light", acc.DisplayName), zap.Bool("on", v))
		p.api.UpdatePlatformAccessories([]*plugin.PlatformAccessory{acc})
		return nil
	})
}

func indexFold(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}
