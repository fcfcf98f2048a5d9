// Package daylight provides a light sensor whose reading follows the sun at
// a configured location. Automations can use it to tell day from night
// without a physical sensor.
package daylight

import (
	"fmt"
	"sync"
	"time"

	"homebridge/internal/clock"
	"homebridge/internal/dayphase"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// PluginName is the module name.
const PluginName = "homebridge-daylight"

// AccessoryType is the accessory identifier in config.json.
const AccessoryType = "DaylightSensor"

// DefaultRefresh is how often the reading is recomputed.
const DefaultRefresh = 15 * time.Minute

func init() {
	plugin.Register(plugin.ModuleInfo{
		Name:        PluginName,
		Description: "Light sensor following sunrise and sunset",
		Version:     "1.0.0",
		Priority:    plugin.PriorityDefault,
		Order:       50,
		Initializer: func(api plugin.API) error {
			api.RegisterAccessory(AccessoryType, func(ctx *plugin.Context) (plugin.AccessoryPlugin, error) {
				s, err := NewSensor(ctx, clock.New())
				if err != nil {
					return nil, err
				}
				api.OnShutdown(s.Stop)
				return s, nil
			})
			return nil
		},
	})
}

// Config is the configuration entry of a DaylightSensor.
type Config struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// NightStart is the hour evenings turn into night. Defaults to 23.
	NightStart *int `json:"nightStart"`
	// Refresh is a duration string. Defaults to 15 minutes.
	Refresh string `json:"refresh"`
}

// Sensor is the daylight light sensor.
type Sensor struct {
	cfg        Config
	refresh    time.Duration
	calculator *dayphase.Calculator
	clock      clock.Clock
	logger     *zap.Logger
	service    *hap.Service
	level      *hap.Characteristic

	mu      sync.Mutex
	phase   dayphase.Phase
	timer   clock.Timer
	stopped bool
}

// NewSensor creates a sensor from ctx.Config and schedules its updates.
func NewSensor(ctx *plugin.Context, clk clock.Clock) (*Sensor, error) {
	var cfg Config
	if err := ctx.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	refresh := DefaultRefresh
	if cfg.Refresh != "" {
		d, err := time.ParseDuration(cfg.Refresh)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid refresh %q for %s", cfg.Refresh, cfg.Name)
		}
		refresh = d
	}
	nightStart := dayphase.DefaultNightStart
	if cfg.NightStart != nil {
		nightStart = *cfg.NightStart
	}

	calc, err := dayphase.NewCalculator(cfg.Latitude, cfg.Longitude, nightStart, clk, ctx.Logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}

	s := &Sensor{
		cfg:        cfg,
		refresh:    refresh,
		calculator: calc,
		clock:      clk,
		logger:     ctx.Logger,
		service:    hap.NewService(hap.ServiceLightSensor, cfg.Name, ""),
	}
	s.level = s.service.Characteristic(hap.CharacteristicAmbientLightLevel)
	s.update()
	return s, nil
}

func (s *Sensor) Name() string { return s.cfg.Name }

func (s *Sensor) Services() []hap.ServiceDefinition {
	return []hap.ServiceDefinition{s.service}
}

// Identify logs the current phase.
func (s *Sensor) Identify() error {
	s.logger.Info("Identify requested", zap.String("phase", string(s.Phase())))
	return nil
}

// Phase returns the phase of the last update.
func (s *Sensor) Phase() dayphase.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Stop cancels further updates.
func (s *Sensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Sensor) update() {
	phase := s.calculator.Phase()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	changed := phase != s.phase
	s.phase = phase
	s.timer = s.clock.AfterFunc(s.refresh, s.update)
	s.mu.Unlock()

	if changed {
		s.logger.Info("Day phase changed", zap.String("phase", string(phase)))
		s.level.SetValue(dayphase.LightLevel(phase))
	}
}
