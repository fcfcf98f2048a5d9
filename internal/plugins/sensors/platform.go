// Package sensors is a static platform that "discovers" its sensors in the
// background and reports them once, after a configurable delay.
package sensors

import (
	"fmt"
	"time"

	"homebridge/internal/clock"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// PluginName is the module name.
const PluginName = "homebridge-sensor-platform"

// PlatformType is the platform identifier in config.json.
const PlatformType = "SensorPlatform"

// Sensor kinds.
const (
	KindTemperature = "temperature"
	KindContact     = "contact"
	KindMotion      = "motion"
)

func init() {
	plugin.Register(plugin.ModuleInfo{
		Name:        PluginName,
		Description: "Static platform exposing simulated sensors",
		Version:     "1.0.0",
		Priority:    plugin.PriorityDefault,
		Order:       30,
		Initializer: func(api plugin.API) error {
			api.RegisterPlatform(PlatformType, func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
				return New(ctx, clock.New())
			})
			return nil
		},
	})
}

// SensorConfig describes one sensor.
type SensorConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Value is the initial reading: degrees for temperature, 0/1 for contact,
	// true/false for motion.
	Value any `json:"value"`
}

// Config is the platform's configuration entry.
type Config struct {
	Name    string         `json:"name"`
	Sensors []SensorConfig `json:"sensors"`
	// DiscoveryDelay is a duration string. Zero reports immediately, but
	// still from a separate goroutine.
	DiscoveryDelay string `json:"discoveryDelay"`
}

// Platform reports the configured sensors.
type Platform struct {
	cfg    Config
	delay  time.Duration
	logger *zap.Logger
	clock  clock.Clock
}

// New creates the platform from ctx.Config.
func New(ctx *plugin.Context, clk clock.Clock) (*Platform, error) {
	var cfg Config
	if err := ctx.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	var delay time.Duration
	if cfg.DiscoveryDelay != "" {
		d, err := time.ParseDuration(cfg.DiscoveryDelay)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid discoveryDelay %q", cfg.DiscoveryDelay)
		}
		delay = d
	}
	for _, s := range cfg.Sensors {
		switch s.Kind {
		case KindTemperature, KindContact, KindMotion:
		default:
			return nil, fmt.Errorf("sensor %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return &Platform{cfg: cfg, delay: delay, logger: ctx.Logger, clock: clk}, nil
}

// Accessories reports the sensors once the discovery delay has passed.
func (p *Platform) Accessories(done func([]plugin.AccessoryPlugin)) {
	p.logger.Info("Discovering sensors", zap.Duration("delay", p.delay))

	report := func() {
		accessories := make([]plugin.AccessoryPlugin, 0, len(p.cfg.Sensors))
		for _, s := range p.cfg.Sensors {
			accessories = append(accessories, newSensor(s))
		}
		p.logger.Info("Discovered sensors", zap.Int("count", len(accessories)))
		done(accessories)
	}

	if p.delay == 0 {
		go report()
		return
	}
	p.clock.AfterFunc(p.delay, report)
}

// Sensor is one simulated sensor.
type Sensor struct {
	cfg     SensorConfig
	service *hap.Service
	reading *hap.Characteristic
}

func newSensor(cfg SensorConfig) *Sensor {
	s := &Sensor{cfg: cfg}
	switch cfg.Kind {
	case KindTemperature:
		s.service = hap.NewService(hap.ServiceTemperatureSensor, cfg.Name, "")
		s.reading = s.service.Characteristic(hap.CharacteristicCurrentTemperature)
	case KindContact:
		s.service = hap.NewService(hap.ServiceContactSensor, cfg.Name, "")
		s.reading = s.service.Characteristic(hap.CharacteristicContactSensorState)
	case KindMotion:
		s.service = hap.NewService(hap.ServiceMotionSensor, cfg.Name, "")
		s.reading = s.service.Characteristic(hap.CharacteristicMotionDetected)
	}
	if cfg.Value != nil {
		s.Update(cfg.Value)
	}
	return s
}

func (s *Sensor) Name() string { return s.cfg.Name }

// UUIDBase keeps the ID stable when two sensors of different kinds share a
// name.
func (s *Sensor) UUIDBase() string { return s.cfg.Kind + ":" + s.cfg.Name }

func (s *Sensor) Services() []hap.ServiceDefinition {
	return []hap.ServiceDefinition{s.service}
}

// Update sets a new reading. JSON numbers are converted to the
// characteristic's format.
func (s *Sensor) Update(value any) {
	if f, ok := value.(float64); ok && s.reading.Format != hap.FormatFloat {
		value = int(f)
	}
	s.reading.SetValue(value)
}
