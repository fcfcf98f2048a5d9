// Package tv publishes television accessories. Controllers only show one
// television per bridge, so each television is published as an external
// accessory with its own address.
package tv

import (
	"fmt"
	"sync"

	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// PluginName is the module name.
const PluginName = "homebridge-tv"

// PlatformType is the platform identifier in config.json.
const PlatformType = "Television"

func init() {
	plugin.Register(plugin.ModuleInfo{
		Name:        PluginName,
		Description: "Televisions published as external accessories",
		Version:     "1.0.0",
		Priority:    plugin.PriorityDefault,
		Order:       40,
		Initializer: func(api plugin.API) error {
			api.RegisterPlatform(PlatformType, func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
				return NewManager(ctx)
			})
			return nil
		},
	})
}

// Config is the platform's configuration entry.
type Config struct {
	Name   string   `json:"name"`
	Inputs []string `json:"inputs"`
}

// Manager handles one television
type Manager struct {
	cfg    Config
	api    plugin.API
	logger *zap.Logger

	accessory *plugin.PlatformAccessory
	tv        *hap.Service
	speaker   *hap.Service

	mu        sync.Mutex
	active    bool
	input     int
	volume    int
	published bool
}

// NewManager creates the television and publishes it once the bridge has
// finished launching.
func NewManager(ctx *plugin.Context) (*Manager, error) {
	var cfg Config
	if err := ctx.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("television needs a name")
	}
	if len(cfg.Inputs) == 0 {
		cfg.Inputs = []string{"HDMI 1"}
	}

	m := &Manager{
		cfg:    cfg,
		api:    ctx.API,
		logger: ctx.Logger,
		input:  1,
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	ctx.API.OnDidFinishLaunching(m.publish)
	return m, nil
}

func (m *Manager) build() error {
	uuid := hap.GenerateUUID(PluginName + ":" + m.cfg.Name)
	acc := plugin.NewPlatformAccessory(m.cfg.Name, uuid, hap.CategoryTelevision)
	acc.InformationService().Characteristic(hap.CharacteristicModel).SetValue("Virtual Television")

	m.tv = hap.NewService(hap.ServiceTelevision, m.cfg.Name, "")
	m.tv.Characteristic(hap.CharacteristicConfiguredName).SetValue(m.cfg.Name)
	m.tv.Characteristic(hap.CharacteristicSleepDiscoveryMode).SetValue(1)
	m.tv.Characteristic(hap.CharacteristicActiveIdentifier).SetValue(m.input)
	m.tv.Characteristic(hap.CharacteristicActive).OnSet(m.setActive)
	m.tv.Characteristic(hap.CharacteristicActiveIdentifier).OnSet(m.setInput)
	m.tv.Characteristic(hap.CharacteristicRemoteKey).OnSet(m.remoteKey)
	if _, err := acc.AddService(m.tv); err != nil {
		return err
	}

	m.speaker = hap.NewService(hap.ServiceSpeaker, m.cfg.Name+" Speaker", "")
	m.speaker.Characteristic(hap.CharacteristicActive).SetValue(1)
	m.speaker.Characteristic(hap.CharacteristicVolume).OnSet(m.setVolume)
	if _, err := acc.AddService(m.speaker); err != nil {
		return err
	}

	for i, name := range m.cfg.Inputs {
		input := hap.NewService(hap.ServiceInputSource, name, fmt.Sprintf("input-%d", i+1))
		input.Characteristic(hap.CharacteristicConfiguredName).SetValue(name)
		if _, err := acc.AddService(input); err != nil {
			return err
		}
	}

	m.accessory = acc
	return nil
}

// Accessory returns the television accessory.
func (m *Manager) Accessory() *plugin.PlatformAccessory {
	return m.accessory
}

func (m *Manager) publish() {
	m.mu.Lock()
	if m.published {
		m.mu.Unlock()
		return
	}
	m.published = true
	m.mu.Unlock()

	m.logger.Info("Publishing television", zap.String("tv", m.cfg.Name), zap.Int("inputs", len(m.cfg.Inputs)))
	m.api.PublishExternalAccessories([]*plugin.PlatformAccessory{m.accessory})
}

// State is a snapshot of the television.
type State struct {
	Active bool
	Input  string
	Volume int
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Active: m.active,
		Input:  m.cfg.Inputs[m.input-1],
		Volume: m.volume,
	}
}

func (m *Manager) setActive(value any) error {
	v, err := toInt(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active = v == 1
	m.mu.Unlock()
	m.logger.Info("Television power", zap.String("tv", m.cfg.Name), zap.Bool("on", v == 1))
	return nil
}

func (m *Manager) setInput(value any) error {
	v, err := toInt(value)
	if err != nil {
		return err
	}
	if v < 1 || v > len(m.cfg.Inputs) {
		return fmt.Errorf("input %d does not exist", v)
	}
	m.mu.Lock()
	m.input = v
	m.mu.Unlock()
	m.logger.Info("Television input", zap.String("tv", m.cfg.Name), zap.String("input", m.cfg.Inputs[v-1]))
	return nil
}

func (m *Manager) setVolume(value any) error {
	v, err := toInt(value)
	if err != nil {
		return err
	}
	if v < 0 || v > 100 {
		return fmt.Errorf("volume %d out of range", v)
	}
	m.mu.Lock()
	m.volume = v
	m.mu.Unlock()
	return nil
}

func (m *Manager) remoteKey(value any) error {
	m.logger.Debug("Remote key", zap.String("tv", m.cfg.Name), zap.Any("key", value))
	return nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case uint8:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float64:
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}
