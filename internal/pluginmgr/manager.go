package pluginmgr

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// ErrInitializerPanic wraps a panic raised by a plugin initializer.
var ErrInitializerPanic = errors.New("plugin initializer panicked")

// Host receives the accessory operations plugins issue through their API
// handle.
type Host interface {
	RegisterPlatformAccessories(pluginName, platformType string, accessories []*plugin.PlatformAccessory)
	UpdatePlatformAccessories(accessories []*plugin.PlatformAccessory)
	UnregisterPlatformAccessories(pluginName, platformType string, accessories []*plugin.PlatformAccessory)
	PublishExternalAccessories(pluginName string, accessories []*plugin.PlatformAccessory)
}

// FaultHandler is called with the value recovered from a panic in plugin
// code. where names the call site.
type FaultHandler func(where string, recovered any)

// Options configures a Manager.
type Options struct {
	Logger      *zap.Logger
	StoragePath string
	Host        Host
	OnFault     FaultHandler
}

// AccessoryInstance is an accessory created from a configuration entry.
type AccessoryInstance struct {
	Plugin string
	Type   string
	// TypeKey is the fully qualified type, "plugin.Type".
	TypeKey     string
	DisplayName string
	Config      plugin.Config
	Instance    plugin.AccessoryPlugin
}

// PlatformInstance is a live platform.
type PlatformInstance struct {
	Plugin string
	Type   string
	// Key is the fully qualified type, "plugin.Type".
	Key      string
	Name     string
	Config   plugin.Config
	Instance plugin.PlatformPlugin
	Caps     plugin.PlatformCapabilities
}

// Instances are the accessories and platforms created from the
// configuration, in configuration order.
type Instances struct {
	Accessories []AccessoryInstance
	Platforms   []PlatformInstance
}

type accessoryRegistration struct {
	plugin string
	typ    string
	ctor   plugin.AccessoryConstructor
}

type platformRegistration struct {
	plugin  string
	typ     string
	ctor    plugin.PlatformConstructor
	dynamic bool
}

func (r platformRegistration) key() string {
	return r.plugin + "." + r.typ
}

// Manager loads plugin modules and owns the constructors they register and
// the dynamic platforms created from them.
type Manager struct {
	root        *zap.Logger
	logger      *zap.Logger
	storagePath string
	host        Host
	onFault     FaultHandler
	descriptors []*Descriptor

	mu                sync.Mutex
	handles           map[string]*apiHandle
	accessoryCtors    map[string]accessoryRegistration
	platformCtors     map[string]platformRegistration
	dynamicOrder      []platformRegistration
	dynamic           map[string]plugin.DynamicPlatform
	configuredDynamic map[string]bool
	platforms         []PlatformInstance
	launchHooks       []func()
	shutdownHooks     []func()
}

// NewManager creates a manager for the given descriptors.
func NewManager(descriptors []*Descriptor, opts Options) *Manager {
	root := opts.Logger
	if root == nil {
		root = zap.NewNop()
	}
	onFault := opts.OnFault
	if onFault == nil {
		onFault = func(string, any) {}
	}
	return &Manager{
		root:              root,
		logger:            root.Named("plugins"),
		storagePath:       opts.StoragePath,
		host:              opts.Host,
		onFault:           onFault,
		descriptors:       descriptors,
		handles:           make(map[string]*apiHandle),
		accessoryCtors:    make(map[string]accessoryRegistration),
		platformCtors:     make(map[string]platformRegistration),
		dynamic:           make(map[string]plugin.DynamicPlatform),
		configuredDynamic: make(map[string]bool),
	}
}

// Descriptors returns every discovered plugin in discovery order.
func (m *Manager) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(m.descriptors))
	copy(out, m.descriptors)
	return out
}

// Load initializes every discovered plugin that allow does not exclude. A
// nil allow-list activates every plugin. Failures are recorded on the
// descriptor and the plugin is left out; Load itself never fails. The
// returned map holds the plugins that loaded.
func (m *Manager) Load(allow []string) map[string]*Descriptor {
	var allowed map[string]bool
	if allow != nil {
		allowed = make(map[string]bool, len(allow))
		for _, name := range allow {
			allowed[name] = true
		}
	}

	loaded := make(map[string]*Descriptor)
	for _, d := range m.descriptors {
		if allowed != nil && !allowed[d.Name] {
			m.logger.Info("Plugin is not in the plugins list, skipping", zap.String("plugin", d.Name))
			continue
		}

		if err := m.initialize(d); err != nil {
			d.LoadError = err
			m.logger.Error("Failed to load plugin",
				zap.String("plugin", d.Name),
				zap.String("path", d.SearchPath),
				zap.Error(err))
			continue
		}

		loaded[d.Name] = d
		m.logger.Info("Loaded plugin",
			zap.String("plugin", d.Name),
			zap.String("version", d.Version),
			zap.Bool("builtin", d.Builtin))
	}

	if len(loaded) == 0 {
		m.logger.Warn("No plugins found")
	}
	return loaded
}

func (m *Manager) initialize(d *Descriptor) (err error) {
	initializer, err := d.resolveInitializer()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInitializerPanic, r)
		}
	}()
	return initializer(m.handle(d.Name))
}

func (m *Manager) handle(pluginName string) *apiHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[pluginName]
	if !ok {
		h = &apiHandle{manager: m, name: pluginName, logger: m.root.Named(pluginName)}
		m.handles[pluginName] = h
	}
	return h
}

func (m *Manager) registerAccessory(pluginName, typ string, ctor plugin.AccessoryConstructor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := accessoryRegistration{plugin: pluginName, typ: typ, ctor: ctor}
	full := pluginName + "." + typ
	if _, exists := m.accessoryCtors[full]; exists {
		m.logger.Warn("Accessory type registered twice, keeping the first",
			zap.String("plugin", pluginName),
			zap.String("accessory", typ))
		return
	}
	m.accessoryCtors[full] = reg
	if _, exists := m.accessoryCtors[typ]; !exists {
		m.accessoryCtors[typ] = reg
	}
	m.logger.Debug("Registered accessory", zap.String("accessory", full))
}

func (m *Manager) registerPlatform(pluginName, typ string, ctor plugin.PlatformConstructor, dynamic bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg := platformRegistration{plugin: pluginName, typ: typ, ctor: ctor, dynamic: dynamic}
	full := reg.key()
	if _, exists := m.platformCtors[full]; exists {
		m.logger.Warn("Platform type registered twice, keeping the first",
			zap.String("plugin", pluginName),
			zap.String("platform", typ))
		return
	}
	m.platformCtors[full] = reg
	if _, exists := m.platformCtors[typ]; !exists {
		m.platformCtors[typ] = reg
	}
	if dynamic {
		m.dynamicOrder = append(m.dynamicOrder, reg)
	}
	m.logger.Debug("Registered platform", zap.String("platform", full), zap.Bool("dynamic", dynamic))
}

func (m *Manager) lookupAccessory(identifier string) (accessoryRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.accessoryCtors[identifier]
	return reg, ok
}

func (m *Manager) lookupPlatform(identifier string) (platformRegistration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.platformCtors[identifier]
	return reg, ok
}

// InstantiateConfigured creates the accessories and platforms named in the
// configuration. Entries whose type no loaded plugin registered are skipped
// with a warning.
func (m *Manager) InstantiateConfigured(accessories, platforms []plugin.Config) Instances {
	var out Instances

	for _, entry := range accessories {
		identifier := entry.AccessoryType()
		reg, ok := m.lookupAccessory(identifier)
		if !ok {
			m.logger.Warn("No plugin was found for the accessory in config.json, make sure the plugin is installed",
				zap.String("accessory", identifier))
			continue
		}

		name := entry.Name()
		if name == "" {
			m.logger.Warn("Accessory entry has no name, skipping", zap.String("accessory", identifier))
			continue
		}

		instance, err := m.constructAccessory(reg, name, entry.Clone())
		if err != nil {
			m.logger.Error("Failed to create accessory",
				zap.String("accessory", identifier),
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		if instance == nil {
			continue
		}

		out.Accessories = append(out.Accessories, AccessoryInstance{
			Plugin:      reg.plugin,
			Type:        reg.typ,
			TypeKey:     reg.plugin + "." + reg.typ,
			DisplayName: name,
			Config:      entry,
			Instance:    instance,
		})
	}

	for _, entry := range platforms {
		identifier := entry.PlatformType()
		reg, ok := m.lookupPlatform(identifier)
		if !ok {
			m.logger.Warn("No plugin was found for the platform in config.json, make sure the plugin is installed",
				zap.String("platform", identifier))
			continue
		}

		name := entry.Name()
		if name == "" {
			name = reg.typ
		}

		inst, ok := m.instantiatePlatform(reg, name, entry.Clone())
		if !ok {
			continue
		}
		if inst.Caps.Dynamic {
			m.mu.Lock()
			m.configuredDynamic[reg.key()] = true
			m.mu.Unlock()
		}
		out.Platforms = append(out.Platforms, inst)
	}

	return out
}

// LoadUnconfiguredDynamicPlatforms creates every registered dynamic platform
// that has no configuration entry, with a nil configuration.
func (m *Manager) LoadUnconfiguredDynamicPlatforms() []PlatformInstance {
	m.mu.Lock()
	var pending []platformRegistration
	for _, reg := range m.dynamicOrder {
		if !m.configuredDynamic[reg.key()] {
			pending = append(pending, reg)
		}
	}
	m.mu.Unlock()

	var out []PlatformInstance
	for _, reg := range pending {
		m.logger.Info("Loading dynamic platform without configuration", zap.String("platform", reg.key()))
		inst, ok := m.instantiatePlatform(reg, reg.typ, nil)
		if !ok {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func (m *Manager) instantiatePlatform(reg platformRegistration, name string, cfg plugin.Config) (PlatformInstance, bool) {
	instance, err := m.constructPlatform(reg, name, cfg)
	if err != nil {
		m.logger.Error("Failed to create platform",
			zap.String("platform", reg.key()),
			zap.String("name", name),
			zap.Error(err))
		return PlatformInstance{}, false
	}
	if instance == nil {
		return PlatformInstance{}, false
	}

	inst := PlatformInstance{
		Plugin:   reg.plugin,
		Type:     reg.typ,
		Key:      reg.key(),
		Name:     name,
		Config:   cfg,
		Instance: instance,
		Caps:     plugin.DescribePlatform(instance),
	}

	m.mu.Lock()
	m.platforms = append(m.platforms, inst)
	m.mu.Unlock()

	if inst.Caps.Dynamic {
		m.addDynamic(inst)
	}
	return inst, true
}

// Platforms returns every platform created so far, in creation order.
func (m *Manager) Platforms() []PlatformInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlatformInstance, len(m.platforms))
	copy(out, m.platforms)
	return out
}

// addDynamic keys a dynamic platform by "plugin.Type" and by bare type. The
// first platform to claim a key keeps it.
func (m *Manager) addDynamic(inst PlatformInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dp := inst.Instance.(plugin.DynamicPlatform)
	if _, exists := m.dynamic[inst.Key]; exists {
		m.logger.Warn("Dynamic platform is configured more than once, only the first receives cached accessories",
			zap.String("platform", inst.Key),
			zap.String("name", inst.Name))
		return
	}
	m.dynamic[inst.Key] = dp
	if _, exists := m.dynamic[inst.Type]; !exists {
		m.dynamic[inst.Type] = dp
	}
}

// DynamicPlatform looks up a live dynamic platform by "plugin.Type" or by
// bare type.
func (m *Manager) DynamicPlatform(key string) (plugin.DynamicPlatform, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dp, ok := m.dynamic[key]
	return dp, ok
}

func (m *Manager) constructAccessory(reg accessoryRegistration, name string, cfg plugin.Config) (instance plugin.AccessoryPlugin, err error) {
	where := fmt.Sprintf("accessory %s.%s (%s)", reg.plugin, reg.typ, name)
	ctx := plugin.NewContext(m.root.Named(name), cfg, m.handle(reg.plugin))
	if !m.Guard(where, func() { instance, err = reg.ctor(ctx) }) {
		return nil, fmt.Errorf("constructor of %s panicked", where)
	}
	return instance, err
}

func (m *Manager) constructPlatform(reg platformRegistration, name string, cfg plugin.Config) (instance plugin.PlatformPlugin, err error) {
	where := fmt.Sprintf("platform %s (%s)", reg.key(), name)
	ctx := plugin.NewContext(m.root.Named(name), cfg, m.handle(reg.plugin))
	if !m.Guard(where, func() { instance, err = reg.ctor(ctx) }) {
		return nil, fmt.Errorf("constructor of %s panicked", where)
	}
	return instance, err
}

// Guard runs plugin code and reports whether it returned normally. A panic
// is handed to the fault handler.
func (m *Manager) Guard(where string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			m.onFault(where, r)
		}
	}()
	fn()
	return true
}

func (m *Manager) onLaunch(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchHooks = append(m.launchHooks, fn)
}

func (m *Manager) onShutdown(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, fn)
}

// EmitDidFinishLaunching runs the did-finish-launching hooks in registration
// order.
func (m *Manager) EmitDidFinishLaunching() {
	m.mu.Lock()
	hooks := append([]func(){}, m.launchHooks...)
	m.mu.Unlock()

	for i, fn := range hooks {
		m.Guard(fmt.Sprintf("didFinishLaunching hook %d", i), fn)
	}
}

// EmitShutdown runs the shutdown hooks in registration order.
func (m *Manager) EmitShutdown() {
	m.mu.Lock()
	hooks := append([]func(){}, m.shutdownHooks...)
	m.mu.Unlock()

	for i, fn := range hooks {
		m.Guard(fmt.Sprintf("shutdown hook %d", i), fn)
	}
}

// apiHandle is the plugin.API given to one plugin module.
type apiHandle struct {
	manager *Manager
	name    string
	logger  *zap.Logger
}

func (h *apiHandle) PluginName() string  { return h.name }
func (h *apiHandle) StoragePath() string { return h.manager.storagePath }

func (h *apiHandle) RegisterAccessory(accessoryType string, ctor plugin.AccessoryConstructor) {
	if !h.validType(accessoryType) || ctor == nil {
		return
	}
	h.manager.registerAccessory(h.name, accessoryType, ctor)
}

func (h *apiHandle) RegisterPlatform(platformType string, ctor plugin.PlatformConstructor) {
	if !h.validType(platformType) || ctor == nil {
		return
	}
	h.manager.registerPlatform(h.name, platformType, ctor, false)
}

func (h *apiHandle) RegisterDynamicPlatform(platformType string, ctor plugin.PlatformConstructor) {
	if !h.validType(platformType) || ctor == nil {
		return
	}
	h.manager.registerPlatform(h.name, platformType, ctor, true)
}

func (h *apiHandle) validType(t string) bool {
	if t == "" || strings.Contains(t, ".") {
		h.logger.Warn("Ignoring registration with an invalid type name", zap.String("type", t))
		return false
	}
	return true
}

func (h *apiHandle) RegisterPlatformAccessories(platformType string, accessories []*plugin.PlatformAccessory) {
	if host := h.host(); host != nil {
		host.RegisterPlatformAccessories(h.name, platformType, accessories)
	}
}

func (h *apiHandle) UpdatePlatformAccessories(accessories []*plugin.PlatformAccessory) {
	if host := h.host(); host != nil {
		host.UpdatePlatformAccessories(accessories)
	}
}

func (h *apiHandle) UnregisterPlatformAccessories(platformType string, accessories []*plugin.PlatformAccessory) {
	if host := h.host(); host != nil {
		host.UnregisterPlatformAccessories(h.name, platformType, accessories)
	}
}

func (h *apiHandle) PublishExternalAccessories(accessories []*plugin.PlatformAccessory) {
	if host := h.host(); host != nil {
		host.PublishExternalAccessories(h.name, accessories)
	}
}

func (h *apiHandle) OnDidFinishLaunching(fn func()) {
	if fn != nil {
		h.manager.onLaunch(fn)
	}
}

func (h *apiHandle) OnShutdown(fn func()) {
	if fn != nil {
		h.manager.onShutdown(fn)
	}
}

func (h *apiHandle) host() Host {
	if h.manager.host == nil {
		h.logger.Warn("Accessory operation ignored, no host attached")
		return nil
	}
	return h.manager.host
}
