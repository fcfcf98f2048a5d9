// Package plugin defines the contract between the bridge host and plugin
// modules. A module exposes an Initializer that receives an API handle and
// registers accessory and platform constructors with it. Compiled-in modules
// register themselves with the global registry from init() functions.
package plugin

import (
	"homebridge/pkg/hap"
)

// Initializer is the entry point of a plugin module. It is called once while
// plugins are loaded and registers the module's constructors through api.
type Initializer func(api API) error

// AccessoryConstructor creates a configured accessory.
type AccessoryConstructor func(ctx *Context) (AccessoryPlugin, error)

// PlatformConstructor creates a platform. ctx.Config is nil for dynamic
// platforms the user has not configured.
type PlatformConstructor func(ctx *Context) (PlatformPlugin, error)

// AccessoryPlugin is an accessory created by a plugin.
type AccessoryPlugin interface {
	// Name is the display name. Accessories created from a configuration
	// entry usually return the entry's name.
	Name() string

	// Services returns either typed *hap.Service values or *hap.LegacyService
	// descriptions. Mixing both in one list is not supported.
	Services() []hap.ServiceDefinition
}

// IdentifyCapable is an optional interface for accessories that can identify
// themselves (blink, beep).
type IdentifyCapable interface {
	Identify() error
}

// ControllerCapable is an optional interface for accessories that bring
// controllers along with their services.
type ControllerCapable interface {
	Controllers() []hap.Controller
}

// UUIDBaseProvider is an optional interface for accessories that want their
// stable ID derived from something other than the display name.
type UUIDBaseProvider interface {
	UUIDBase() string
}

// PlatformPlugin is a platform instance. Its behavior is given by the
// capability interfaces it implements, see DescribePlatform.
type PlatformPlugin any

// StaticPlatform is a platform that reports a fixed set of accessories once.
// done must be called exactly once; it may be called from any goroutine.
type StaticPlatform interface {
	Accessories(done func([]AccessoryPlugin))
}

// DynamicPlatform is a platform that manages accessories at runtime through
// the API and gets cached accessories handed back on startup.
type DynamicPlatform interface {
	ConfigureAccessory(acc *PlatformAccessory)
}

// ConfigurablePlatform is a platform that answers configuration requests and
// can ask the host to rewrite its configuration entry.
type ConfigurablePlatform interface {
	HandleConfigurationRequest(request map[string]any, respond ConfigurationResponder)
}

// ConfigurationResponse is the answer of a ConfigurablePlatform.
type ConfigurationResponse struct {
	// Response is returned to whoever issued the request.
	Response map[string]any
	// Kind is "accessories" or "platforms" when Config should be persisted.
	Kind string
	// Replace rewrites the existing entry instead of appending a new one.
	Replace bool
	Config  Config
}

// ConfigurationResponder delivers a ConfigurationResponse.
type ConfigurationResponder func(ConfigurationResponse)

// PlatformCapabilities lists the capability interfaces a platform implements.
type PlatformCapabilities struct {
	Static       bool
	Dynamic      bool
	Configurable bool
}

// DescribePlatform detects the capabilities of p.
func DescribePlatform(p PlatformPlugin) PlatformCapabilities {
	_, static := p.(StaticPlatform)
	_, dynamic := p.(DynamicPlatform)
	_, configurable := p.(ConfigurablePlatform)
	return PlatformCapabilities{Static: static, Dynamic: dynamic, Configurable: configurable}
}

// AccessoryCapabilities lists the optional interfaces an accessory implements.
type AccessoryCapabilities struct {
	Identify    bool
	Controllers bool
	UUIDBase    bool
}

// DescribeAccessory detects the optional capabilities of a.
func DescribeAccessory(a AccessoryPlugin) AccessoryCapabilities {
	_, identify := a.(IdentifyCapable)
	_, controllers := a.(ControllerCapable)
	_, uuidBase := a.(UUIDBaseProvider)
	return AccessoryCapabilities{Identify: identify, Controllers: controllers, UUIDBase: uuidBase}
}

// API is the handle a plugin module uses to talk to the host. Each module gets
// its own handle, bound to the module's name.
type API interface {
	// PluginName is the name of the module owning this handle.
	PluginName() string
	// StoragePath is the user storage directory.
	StoragePath() string

	RegisterAccessory(accessoryType string, ctor AccessoryConstructor)
	RegisterPlatform(platformType string, ctor PlatformConstructor)
	// RegisterDynamicPlatform registers a platform that is instantiated even
	// when it has no configuration entry.
	RegisterDynamicPlatform(platformType string, ctor PlatformConstructor)

	RegisterPlatformAccessories(platformType string, accessories []*PlatformAccessory)
	UpdatePlatformAccessories(accessories []*PlatformAccessory)
	UnregisterPlatformAccessories(platformType string, accessories []*PlatformAccessory)
	PublishExternalAccessories(accessories []*PlatformAccessory)

	// OnDidFinishLaunching runs fn after cached accessories were restored.
	OnDidFinishLaunching(fn func())
	// OnShutdown runs fn during teardown.
	OnShutdown(fn func())
}
