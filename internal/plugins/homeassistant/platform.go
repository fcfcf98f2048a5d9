// Package homeassistant mirrors Home Assistant entities into HomeKit.
// input_boolean and switch entities become switches and light entities
// become lightbulbs. Changes flow both ways: writes from HomeKit call the
// entity's turn_on/turn_off service and state changes in Home Assistant
// update the accessory.
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"homebridge/internal/ha"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// PluginName is the module name.
const PluginName = "homebridge-homeassistant"

// PlatformType is the platform identifier in config.json.
const PlatformType = "HomeAssistant"

const (
	contextEntity = "entityID"
	callTimeout   = 10 * time.Second
)

func init() {
	plugin.Register(plugin.ModuleInfo{
		Name:        PluginName,
		Description: "Home Assistant entities as HomeKit accessories",
		Version:     "1.0.0",
		Priority:    plugin.PriorityDefault,
		Order:       60,
		Initializer: func(api plugin.API) error {
			api.RegisterDynamicPlatform(PlatformType, func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
				return New(ctx)
			})
			return nil
		},
	})
}

// Config is the platform's configuration entry.
type Config struct {
	Name string `json:"name"`
	// URL is the websocket endpoint, e.g. ws://homeassistant.local:8123/api/websocket.
	URL   string `json:"url"`
	Token string `json:"token"`
	// Entities limits the mirrored entities. Empty mirrors every supported one.
	Entities []string `json:"entities"`
}

// Platform keeps one accessory per mirrored entity.
type Platform struct {
	api    plugin.API
	logger *zap.Logger
	cfg    Config
	client *ha.Client
	wanted map[string]bool

	mu          sync.Mutex
	accessories map[string]*plugin.PlatformAccessory
}

// New creates the platform. Without a configuration entry it only keeps its
// cached accessories.
func New(ctx *plugin.Context) (*Platform, error) {
	p := &Platform{
		api:         ctx.API,
		logger:      ctx.Logger,
		accessories: make(map[string]*plugin.PlatformAccessory),
	}
	if ctx.Config == nil {
		return p, nil
	}

	if err := ctx.Config.Decode(&p.cfg); err != nil {
		return nil, err
	}
	if p.cfg.URL == "" || p.cfg.Token == "" {
		return nil, errors.New("homeassistant: url and token are required")
	}
	if len(p.cfg.Entities) > 0 {
		p.wanted = make(map[string]bool, len(p.cfg.Entities))
		for _, id := range p.cfg.Entities {
			p.wanted[id] = true
		}
	}

	p.client = ha.NewClient(p.cfg.URL, p.cfg.Token, ctx.Logger, p.stateChanged, p.connected)
	p.api.OnDidFinishLaunching(func() { go p.connect() })
	p.api.OnShutdown(func() { _ = p.client.Close() })
	return p, nil
}

// EntityUUID returns the accessory UUID of an entity.
func EntityUUID(entityID string) string {
	return hap.GenerateUUID(PluginName + ":" + entityID)
}

// ConfigureAccessory takes a cached accessory back.
func (p *Platform) ConfigureAccessory(acc *plugin.PlatformAccessory) {
	entityID, _ := acc.Context()[contextEntity].(string)
	if entityID == "" {
		p.logger.Warn("Cached accessory without entity", zap.String("accessory", acc.DisplayName))
		return
	}
	p.mu.Lock()
	p.accessories[entityID] = acc
	p.mu.Unlock()
	p.attach(entityID, acc)
}

// Entities returns the mirrored entity IDs, sorted.
func (p *Platform) Entities() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.accessories))
	for id := range p.accessories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Platform) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := p.client.Connect(ctx); err != nil {
		p.logger.Error("Failed to connect to Home Assistant", zap.String("url", p.cfg.URL), zap.Error(err))
	}
}

// connected reconciles the accessories with the entities Home Assistant
// reports after every (re)connect.
func (p *Platform) connected() {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	states, err := p.client.States(ctx)
	if err != nil {
		p.logger.Error("Failed to fetch entity states", zap.Error(err))
		return
	}

	present := make(map[string]bool)
	var added []*plugin.PlatformAccessory
	for _, st := range states {
		if !p.mirrors(st) {
			continue
		}
		present[st.EntityID] = true
		if acc := p.lookup(st.EntityID); acc != nil {
			p.apply(acc, st)
			continue
		}
		if acc := p.create(st); acc != nil {
			added = append(added, acc)
		}
	}

	p.mu.Lock()
	var removed []*plugin.PlatformAccessory
	for id, acc := range p.accessories {
		if !present[id] {
			delete(p.accessories, id)
			removed = append(removed, acc)
		}
	}
	p.mu.Unlock()

	if len(added) > 0 {
		sort.Slice(added, func(i, j int) bool { return added[i].DisplayName < added[j].DisplayName })
		p.api.RegisterPlatformAccessories(PlatformType, added)
	}
	if len(removed) > 0 {
		p.api.UnregisterPlatformAccessories(PlatformType, removed)
	}
	p.logger.Info("Entities synchronised",
		zap.Int("mirrored", len(present)),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)))
}

func (p *Platform) stateChanged(entityID string, _, newState *ha.State) {
	acc := p.lookup(entityID)
	switch {
	case newState == nil && acc != nil:
		p.mu.Lock()
		delete(p.accessories, entityID)
		p.mu.Unlock()
		p.api.UnregisterPlatformAccessories(PlatformType, []*plugin.PlatformAccessory{acc})
	case newState == nil:
	case acc != nil:
		p.apply(acc, newState)
	case p.mirrors(newState):
		if acc := p.create(newState); acc != nil {
			p.api.RegisterPlatformAccessories(PlatformType, []*plugin.PlatformAccessory{acc})
		}
	}
}

func (p *Platform) mirrors(st *ha.State) bool {
	if serviceFor(st.Domain()) == "" {
		return false
	}
	return p.wanted == nil || p.wanted[st.EntityID]
}

func (p *Platform) lookup(entityID string) *plugin.PlatformAccessory {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessories[entityID]
}

func serviceFor(domain string) hap.ServiceType {
	switch domain {
	case "input_boolean", "switch":
		return hap.ServiceSwitch
	case "light":
		return hap.ServiceLightbulb
	default:
		return ""
	}
}

func categoryFor(t hap.ServiceType) hap.Category {
	if t == hap.ServiceLightbulb {
		return hap.CategoryLightbulb
	}
	return hap.CategorySwitch
}

// create builds and remembers the accessory of st. The caller registers it.
func (p *Platform) create(st *ha.State) *plugin.PlatformAccessory {
	svcType := serviceFor(st.Domain())
	name := st.FriendlyName()
	acc := plugin.NewPlatformAccessory(name, EntityUUID(st.EntityID), categoryFor(svcType))
	if _, err := acc.AddService(hap.NewService(svcType, name, "")); err != nil {
		p.logger.Warn("Failed to create accessory", zap.String("entity", st.EntityID), zap.Error(err))
		return nil
	}
	acc.SetContext(contextEntity, st.EntityID)

	p.mu.Lock()
	if existing, ok := p.accessories[st.EntityID]; ok {
		p.mu.Unlock()
		p.apply(existing, st)
		return nil
	}
	p.accessories[st.EntityID] = acc
	p.mu.Unlock()

	p.attach(st.EntityID, acc)
	p.apply(acc, st)
	return acc
}

func onCharacteristic(acc *plugin.PlatformAccessory) *hap.Characteristic {
	for _, t := range []hap.ServiceType{hap.ServiceSwitch, hap.ServiceLightbulb} {
		if svc := acc.Service(t); svc != nil {
			return svc.Characteristic(hap.CharacteristicOn)
		}
	}
	return nil
}

// apply copies the entity state into the accessory.
func (p *Platform) apply(acc *plugin.PlatformAccessory, st *ha.State) {
	if on := onCharacteristic(acc); on != nil {
		on.SetValue(st.IsOn())
	}
}

// attach forwards HomeKit writes to Home Assistant.
func (p *Platform) attach(entityID string, acc *plugin.PlatformAccessory) {
	on := onCharacteristic(acc)
	if on == nil {
		return
	}
	on.OnSet(func(value any) error {
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s: expected bool, got %T", entityID, value)
		}
		if p.client == nil {
			return ha.ErrNotConnected
		}
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := p.client.Turn(ctx, entityID, v); err != nil {
			p.logger.Warn("Failed to switch entity", zap.String("entity", entityID), zap.Error(err))
			return err
		}
		return nil
	})
}
