package pluginmgr

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type switchAccessory struct {
	name string
}

func (s *switchAccessory) Name() string { return s.name }
func (s *switchAccessory) Services() []hap.ServiceDefinition {
	return []hap.ServiceDefinition{hap.NewService(hap.ServiceSwitch, s.name, "")}
}

type dynamicPlatform struct {
	mu         sync.Mutex
	configured []string
}

func (p *dynamicPlatform) ConfigureAccessory(acc *plugin.PlatformAccessory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = append(p.configured, acc.UUID)
}

type staticPlatform struct{}

func (staticPlatform) Accessories(done func([]plugin.AccessoryPlugin)) { done(nil) }

type recordingHost struct {
	mu         sync.Mutex
	registered []string
	external   []string
}

func (h *recordingHost) RegisterPlatformAccessories(pluginName, platformType string, accs []*plugin.PlatformAccessory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range accs {
		h.registered = append(h.registered, pluginName+"."+platformType+"/"+a.DisplayName)
	}
}

func (h *recordingHost) UpdatePlatformAccessories([]*plugin.PlatformAccessory) {}

func (h *recordingHost) UnregisterPlatformAccessories(string, string, []*plugin.PlatformAccessory) {}

func (h *recordingHost) PublishExternalAccessories(pluginName string, accs []*plugin.PlatformAccessory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range accs {
		h.external = append(h.external, pluginName+"/"+a.DisplayName)
	}
}

func builtin(name string, initializer plugin.Initializer) *Descriptor {
	return &Descriptor{Name: name, Builtin: true, Initializer: initializer}
}

func newTestManager(t *testing.T, descriptors ...*Descriptor) (*Manager, *[]string) {
	t.Helper()
	var faults []string
	m := NewManager(descriptors, Options{
		Logger:      zap.NewNop(),
		StoragePath: t.TempDir(),
		Host:        &recordingHost{},
		OnFault:     func(where string, _ any) { faults = append(faults, where) },
	})
	return m, &faults
}

func TestLoad_RecordsFailuresAndContinues(t *testing.T) {
	good := builtin("good", func(api plugin.API) error { return nil })
	failing := builtin("failing", func(api plugin.API) error { return errors.New("boom") })
	panicking := builtin("panicking", func(api plugin.API) error { panic("bad init") })
	missing := &Descriptor{Name: "missing", SearchPath: t.TempDir(), manifest: &Manifest{Name: "missing"}}

	m, _ := newTestManager(t, good, failing, panicking, missing)
	loaded := m.Load(nil)

	assert.Len(t, loaded, 1)
	assert.Contains(t, loaded, "good")
	assert.True(t, good.Loaded())

	assert.EqualError(t, failing.LoadError, "boom")
	assert.ErrorIs(t, panicking.LoadError, ErrInitializerPanic)
	assert.ErrorIs(t, missing.LoadError, ErrNoLibrary)
}

func TestLoad_AllowList(t *testing.T) {
	var called []string
	mk := func(name string) *Descriptor {
		return builtin(name, func(api plugin.API) error {
			called = append(called, api.PluginName())
			return nil
		})
	}

	m, _ := newTestManager(t, mk("a"), mk("b"), mk("c"))
	loaded := m.Load([]string{"c", "a"})

	assert.Equal(t, []string{"a", "c"}, called, "plugins load in discovery order")
	assert.Len(t, loaded, 2)
}

func TestLoad_NoPlugins(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Empty(t, m.Load(nil))
}

func TestInstantiateConfigured(t *testing.T) {
	dp := &dynamicPlatform{}
	desc := builtin("homebridge-test", func(api plugin.API) error {
		api.RegisterAccessory("Switch", func(ctx *plugin.Context) (plugin.AccessoryPlugin, error) {
			return &switchAccessory{name: ctx.Config.Name()}, nil
		})
		api.RegisterPlatform("Static", func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
			return staticPlatform{}, nil
		})
		api.RegisterDynamicPlatform("Dynamic", func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
			return dp, nil
		})
		return nil
	})

	m, _ := newTestManager(t, desc)
	m.Load(nil)

	out := m.InstantiateConfigured(
		[]plugin.Config{
			{"accessory": "Switch", "name": "Bare"},
			{"accessory": "homebridge-test.Switch", "name": "Qualified"},
			{"accessory": "Unknown", "name": "Nope"},
			{"accessory": "Switch"},
		},
		[]plugin.Config{
			{"platform": "Static", "name": "Static One"},
			{"platform": "homebridge-test.Dynamic"},
			{"platform": "Missing"},
		},
	)

	require.Len(t, out.Accessories, 2)
	assert.Equal(t, "Bare", out.Accessories[0].DisplayName)
	assert.Equal(t, "homebridge-test.Switch", out.Accessories[0].TypeKey)
	assert.Equal(t, "Qualified", out.Accessories[1].DisplayName)

	require.Len(t, out.Platforms, 2)
	assert.True(t, out.Platforms[0].Caps.Static)
	assert.Equal(t, "Static One", out.Platforms[0].Name)
	assert.True(t, out.Platforms[1].Caps.Dynamic)
	assert.Equal(t, "Dynamic", out.Platforms[1].Name, "platform name defaults to its type")

	got, ok := m.DynamicPlatform("homebridge-test.Dynamic")
	require.True(t, ok)
	assert.Same(t, dp, got)
	got, ok = m.DynamicPlatform("Dynamic")
	require.True(t, ok)
	assert.Same(t, dp, got)

	assert.Empty(t, m.LoadUnconfiguredDynamicPlatforms(), "configured dynamic platforms are not loaded twice")
	assert.Len(t, m.Platforms(), 2)
}

func TestLoadUnconfiguredDynamicPlatforms(t *testing.T) {
	var configs []plugin.Config
	desc := builtin("homebridge-dyn", func(api plugin.API) error {
		api.RegisterDynamicPlatform("Dyn", func(ctx *plugin.Context) (plugin.PlatformPlugin, error) {
			configs = append(configs, ctx.Config)
			return &dynamicPlatform{}, nil
		})
		return nil
	})

	m, _ := newTestManager(t, desc)
	m.Load(nil)
	m.InstantiateConfigured(nil, nil)

	instances := m.LoadUnconfiguredDynamicPlatforms()
	require.Len(t, instances, 1)
	assert.Equal(t, "homebridge-dyn.Dyn", instances[0].Key)
	assert.Nil(t, configs[0])

	_, ok := m.DynamicPlatform("homebridge-dyn.Dyn")
	assert.True(t, ok)
}

func TestInstantiateConfigured_ConstructorPanicIsAFault(t *testing.T) {
	desc := builtin("homebridge-bad", func(api plugin.API) error {
		api.RegisterAccessory("Bad", func(ctx *plugin.Context) (plugin.AccessoryPlugin, error) {
			panic("constructor exploded")
		})
		return nil
	})

	m, faults := newTestManager(t, desc)
	m.Load(nil)
	out := m.InstantiateConfigured([]plugin.Config{{"accessory": "Bad", "name": "B"}}, nil)

	assert.Empty(t, out.Accessories)
	require.Len(t, *faults, 1)
	assert.Contains(t, (*faults)[0], "homebridge-bad.Bad")
}

func TestAPIHandle_ForwardsToHost(t *testing.T) {
	var captured plugin.API
	desc := builtin("homebridge-fwd", func(api plugin.API) error {
		captured = api
		return nil
	})

	m, _ := newTestManager(t, desc)
	m.Load(nil)
	require.NotNil(t, captured)

	acc := plugin.NewPlatformAccessory("Lamp", hap.GenerateUUID("lamp"), hap.CategoryLightbulb)
	captured.RegisterPlatformAccessories("Dyn", []*plugin.PlatformAccessory{acc})
	captured.PublishExternalAccessories([]*plugin.PlatformAccessory{acc})

	host := m.host.(*recordingHost)
	assert.Equal(t, []string{"homebridge-fwd.Dyn/Lamp"}, host.registered)
	assert.Equal(t, []string{"homebridge-fwd/Lamp"}, host.external)
	assert.Equal(t, m.storagePath, captured.StoragePath())
}

func TestHooks(t *testing.T) {
	var order []string
	desc := builtin("homebridge-hooks", func(api plugin.API) error {
		api.OnDidFinishLaunching(func() { order = append(order, "launch-1") })
		api.OnDidFinishLaunching(func() { panic("hook failed") })
		api.OnDidFinishLaunching(func() { order = append(order, "launch-3") })
		api.OnShutdown(func() { order = append(order, "shutdown") })
		return nil
	})

	m, faults := newTestManager(t, desc)
	m.Load(nil)

	m.EmitDidFinishLaunching()
	m.EmitShutdown()

	assert.Equal(t, []string{"launch-1", "launch-3", "shutdown"}, order)
	assert.Len(t, *faults, 1)
}

func TestDiscover(t *testing.T) {
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(plugin.ModuleInfo{
		Name:        "homebridge-builtin",
		Initializer: func(plugin.API) error { return nil },
	}))

	dir := t.TempDir()
	writeManifest := func(sub, body string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, sub, ManifestFile), []byte(body), 0o644))
	}
	writeManifest("ext", "name: homebridge-ext\nversion: 1.2.3\nlibrary: ext.so\n")
	writeManifest("dupe", "name: homebridge-builtin\n")
	writeManifest("broken", "name: [unterminated\n")
	writeManifest("unnamed", "version: 0.1.0\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "not-a-plugin"), 0o755))

	found := Discover(registry, []string{dir, filepath.Join(dir, "does-not-exist")}, zap.NewNop())

	names := make([]string, 0, len(found))
	for _, d := range found {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"homebridge-builtin", "homebridge-ext", "unnamed"}, names)
	assert.True(t, found[0].Builtin)
	assert.Equal(t, "1.2.3", found[1].Version)
	assert.Equal(t, filepath.Join(dir, "ext"), found[1].SearchPath)
}

func TestDiscover_LogsShadowedModules(t *testing.T) {
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(plugin.ModuleInfo{
		Name:        "homebridge-dummy",
		Initializer: func(plugin.API) error { return nil },
	}))
	require.NoError(t, registry.Register(plugin.ModuleInfo{
		Name:        "homebridge-dummy",
		Priority:    plugin.PriorityOverride,
		Initializer: func(plugin.API) error { return nil },
	}))

	core, logs := observer.New(zap.InfoLevel)
	found := Discover(registry, nil, zap.New(core))

	require.Len(t, found, 1)
	entries := logs.FilterField(zap.String("plugin", "homebridge-dummy")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(plugin.PriorityDefault), entries[0].ContextMap()["priority"])
	assert.Equal(t, int64(plugin.PriorityOverride), entries[0].ContextMap()["kept_priority"])
}
