package dummy

import (
	"homebridge/internal/clock"
	"homebridge/pkg/plugin"
)

// PluginName is the module name used in config.json ("homebridge-dummy.DummySwitch").
const PluginName = "homebridge-dummy"

// Accessory types registered by the module.
const (
	SwitchType = "DummySwitch"
	OutletType = "DummyOutlet"
)

func init() {
	plugin.Register(plugin.ModuleInfo{
		Name:        PluginName,
		Description: "Virtual switches and outlets for automations",
		Version:     "1.0.0",
		Priority:    plugin.PriorityDefault,
		Order:       10,
		Initializer: initialize,
	})
}

func initialize(api plugin.API) error {
	api.RegisterAccessory(SwitchType, func(ctx *plugin.Context) (plugin.AccessoryPlugin, error) {
		return NewSwitch(ctx, clock.New())
	})
	api.RegisterAccessory(OutletType, func(ctx *plugin.Context) (plugin.AccessoryPlugin, error) {
		return NewOutlet(ctx), nil
	})
	return nil
}
