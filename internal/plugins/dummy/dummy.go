// Package dummy provides virtual accessories. A dummy switch turns itself
// back off after a delay unless it is stateful, which makes it useful as a
// trigger for automations. The dummy outlet uses plain service descriptions.
package dummy

import (
	"fmt"
	"sync"
	"time"

	"homebridge/internal/clock"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// DefaultResetAfter is how long a non-stateful switch stays in its
// triggered position.
const DefaultResetAfter = time.Second

// SwitchConfig is the configuration entry of a DummySwitch.
type SwitchConfig struct {
	Name string `json:"name"`
	// Stateful switches keep their value instead of resetting.
	Stateful bool `json:"stateful"`
	// Reverse makes "on" the resting position.
	Reverse bool `json:"reverse"`
	// ResetAfter is a duration string such as "500ms". Defaults to one second.
	ResetAfter string `json:"resetAfter"`
}

// Switch is a virtual switch.
type Switch struct {
	cfg        SwitchConfig
	resetAfter time.Duration
	logger     *zap.Logger
	clock      clock.Clock
	service    *hap.Service

	mu    sync.Mutex
	timer clock.Timer
}

// NewSwitch creates a switch from ctx.Config.
func NewSwitch(ctx *plugin.Context, clk clock.Clock) (*Switch, error) {
	var cfg SwitchConfig
	if err := ctx.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	resetAfter := DefaultResetAfter
	if cfg.ResetAfter != "" {
		d, err := time.ParseDuration(cfg.ResetAfter)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid resetAfter %q for %s", cfg.ResetAfter, cfg.Name)
		}
		resetAfter = d
	}

	s := &Switch{
		cfg:        cfg,
		resetAfter: resetAfter,
		logger:     ctx.Logger,
		clock:      clk,
		service:    hap.NewService(hap.ServiceSwitch, cfg.Name, ""),
	}
	on := s.service.Characteristic(hap.CharacteristicOn)
	on.SetValue(cfg.Reverse)
	on.OnSet(s.set)
	return s, nil
}

func (s *Switch) Name() string { return s.cfg.Name }

func (s *Switch) Services() []hap.ServiceDefinition {
	return []hap.ServiceDefinition{s.service}
}

// Identify logs the request; a virtual switch has nothing to blink.
func (s *Switch) Identify() error {
	s.logger.Info("Identify requested", zap.String("switch", s.cfg.Name))
	return nil
}

// On returns the current switch position.
func (s *Switch) On() bool {
	on, _ := s.service.Characteristic(hap.CharacteristicOn).Value().(bool)
	return on
}

func (s *Switch) set(value any) error {
	on, ok := value.(bool)
	if !ok {
		return fmt.Errorf("switch %s: expected bool, got %T", s.cfg.Name, value)
	}
	s.logger.Info("Switch set", zap.String("switch", s.cfg.Name), zap.Bool("on", on))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cfg.Stateful || on == s.cfg.Reverse {
		return nil
	}
	s.timer = s.clock.AfterFunc(s.resetAfter, s.reset)
	return nil
}

func (s *Switch) reset() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	s.logger.Debug("Switch reset", zap.String("switch", s.cfg.Name))
	s.service.Characteristic(hap.CharacteristicOn).SetValue(s.cfg.Reverse)
}

// Outlet is a virtual outlet described with legacy services.
type Outlet struct {
	name   string
	logger *zap.Logger

	mu sync.Mutex
	on bool
}

// NewOutlet creates an outlet from ctx.Config.
func NewOutlet(ctx *plugin.Context) *Outlet {
	return &Outlet{name: ctx.Config.Name(), logger: ctx.Logger}
}

func (o *Outlet) Name() string { return o.name }

func (o *Outlet) Services() []hap.ServiceDefinition {
	return []hap.ServiceDefinition{
		&hap.LegacyService{
			SType: string(hap.ServiceAccessoryInformation),
			Characteristics: []hap.LegacyCharacteristic{
				{CType: string(hap.CharacteristicManufacturer), InitialValue: "Homebridge"},
				{CType: string(hap.CharacteristicModel), InitialValue: "Dummy Outlet"},
			},
		},
		&hap.LegacyService{
			SType: string(hap.ServiceOutlet),
			Characteristics: []hap.LegacyCharacteristic{
				{
					CType:        string(hap.CharacteristicOn),
					InitialValue: false,
					Description:  "Turn the outlet on or off",
					OnUpdate:     o.update,
				},
				{CType: string(hap.CharacteristicOutletInUse), InitialValue: true},
			},
		},
	}
}

// On returns the last value written by a controller.
func (o *Outlet) On() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}

func (o *Outlet) update(value any) {
	on, _ := value.(bool)
	o.mu.Lock()
	o.on = on
	o.mu.Unlock()
	o.logger.Info("Outlet set", zap.String("outlet", o.name), zap.Bool("on", on))
}
