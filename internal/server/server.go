// Package server runs the bridge. It loads plugins, restores cached
// accessories, waits for platforms that discover accessories
// asynchronously, and publishes the bridge and external accessories once
// everything has reported.
package server

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"homebridge/internal/accessory"
	"homebridge/internal/cache"
	"homebridge/internal/clock"
	"homebridge/internal/config"
	"homebridge/internal/ipc"
	"homebridge/internal/pluginmgr"
	"homebridge/internal/remoteconfig"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrAddressInUse is returned when an external accessory derives the
	// same address as an accessory published before it.
	ErrAddressInUse = errors.New("accessory address already in use")
)

// Bridge information defaults.
const (
	DefaultManufacturer = "homebridge.io"
	DefaultModel        = "homebridge"
)

// MaxBridgedAccessories is the number of accessories a controller accepts
// behind one bridge.
const MaxBridgedAccessories = 149

// Options configures a Server.
type Options struct {
	Logger *zap.Logger
	Config *config.Config
	// Loader persists configuration changes requested by platforms. Nil
	// keeps them in memory.
	Loader      *config.Loader
	Cache       *cache.Store
	Descriptors []*pluginmgr.Descriptor
	StoragePath string
	Publisher   hap.Publisher
	Emitter     *ipc.Emitter
	Clock       clock.Clock
	Version     string

	KeepOrphans bool
	HideQRCode  bool
	// DiscoveryTimeout abandons platforms that have not reported their
	// accessories in time. Zero waits forever.
	DiscoveryTimeout time.Duration
	// ShutdownGrace bounds the whole teardown sequence. Zero waits until
	// the context passed to Teardown is done.
	ShutdownGrace time.Duration

	// AddressFunc derives the published address of an external accessory
	// from its stable ID. Defaults to hap.GenerateMAC.
	AddressFunc func(uuid string) string
	// Terminate escalates an uncaught fault. Defaults to sending SIGTERM to
	// the own process.
	Terminate func()
	// Output receives the setup banner. Defaults to stdout.
	Output io.Writer
}

type queuedExternal struct {
	plugin    string
	accessory *plugin.PlatformAccessory
}

type externalAccessory struct {
	accessory *plugin.PlatformAccessory
	address   string
	port      int
}

// Server is the bridge orchestrator.
type Server struct {
	logger    *zap.Logger
	opts      Options
	cfg       *config.Config
	cache     *cache.Store
	plugins   *pluginmgr.Manager
	factory   *accessory.Factory
	remote    *remoteconfig.Channel
	publisher hap.Publisher
	emitter   *ipc.Emitter
	clock     clock.Clock
	ports     *PortAllocator
	address   func(string) string
	terminate func()
	out       io.Writer
	bridge    *hap.Accessory

	runCtx     context.Context
	terminated chan struct{}
	faultOnce  sync.Once

	// publishMu orders calls into the publisher: the bridge is always
	// published before any external accessory.
	publishMu sync.Mutex

	// cacheMu serialises cache rewrites.
	cacheMu sync.Mutex

	mu              sync.Mutex
	state           State
	started         bool
	syncDone        bool
	pending         map[*discoveryTask]struct{}
	discoveryTimer  clock.Timer
	cached          []*plugin.PlatformAccessory
	addresses       map[string]string
	externals       []*externalAccessory
	queued          []queuedExternal
	bridgePublished bool
	bridgePort      int
	setupURI        string
}

// New creates a server. Nothing is loaded until Start.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("server: cache is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("server: publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Emitter == nil {
		opts.Emitter = ipc.NewEmitter(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.AddressFunc == nil {
		opts.AddressFunc = hap.GenerateMAC
	}
	if opts.Terminate == nil {
		opts.Terminate = signalSelf
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Version == "" {
		opts.Version = hap.DefaultFirmwareRevision
	}

	s := &Server{
		logger:     opts.Logger.Named("server"),
		opts:       opts,
		cfg:        opts.Config,
		cache:      opts.Cache,
		publisher:  opts.Publisher,
		emitter:    opts.Emitter,
		clock:      opts.Clock,
		ports:      NewPortAllocator(opts.Config.Ports),
		address:    opts.AddressFunc,
		terminate:  opts.Terminate,
		out:        opts.Output,
		runCtx:     context.Background(),
		terminated: make(chan struct{}),
		state:      StateLoading,
		pending:    make(map[*discoveryTask]struct{}),
		addresses:  make(map[string]string),
	}

	s.plugins = pluginmgr.NewManager(opts.Descriptors, pluginmgr.Options{
		Logger:      opts.Logger,
		StoragePath: opts.StoragePath,
		Host:        s,
		OnFault:     s.fault,
	})
	s.factory = accessory.NewFactory(opts.Logger, s.accessoryChanged)

	remote, err := remoteconfig.New(remoteconfig.Options{
		Config: opts.Config,
		Loader: opts.Loader,
		Logger: opts.Logger,
		Guard:  s.plugins.Guard,
	})
	if err != nil {
		return nil, err
	}
	s.remote = remote

	s.bridge = s.newBridge()
	return s, nil
}

func (s *Server) newBridge() *hap.Accessory {
	b := s.cfg.Bridge
	bridge := hap.NewAccessory(b.Name, hap.GenerateUUID(b.Username))
	bridge.Category = hap.CategoryBridge

	manufacturer := b.Manufacturer
	if manufacturer == "" {
		manufacturer = DefaultManufacturer
	}
	model := b.Model
	if model == "" {
		model = DefaultModel
	}
	info := bridge.InformationService()
	info.Characteristic(hap.CharacteristicManufacturer).SetValue(manufacturer)
	info.Characteristic(hap.CharacteristicModel).SetValue(model)
	info.Characteristic(hap.CharacteristicSerialNumber).SetValue(b.Username)
	info.Characteristic(hap.CharacteristicFirmwareRevision).SetValue(s.opts.Version)
	return bridge
}

// Start loads plugins and accessories. The bridge is published from Start
// when no platform discovers asynchronously, otherwise from the callback of
// the last platform to report.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.runCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	cached, err := s.cache.Load(ctx)
	if err != nil {
		s.logger.Error("Failed to load cached accessories, starting without them", zap.Error(err))
		cached = nil
	}

	s.plugins.Load(s.cfg.Plugins)

	instances := s.plugins.InstantiateConfigured(s.cfg.Accessories, s.cfg.Platforms)
	for _, inst := range instances.Accessories {
		s.addConfiguredAccessory(inst)
	}
	for _, inst := range instances.Platforms {
		s.startPlatform(inst)
	}
	for _, inst := range s.plugins.LoadUnconfiguredDynamicPlatforms() {
		s.startPlatform(inst)
	}

	verified := s.plugins.Reconcile(cached, pluginmgr.ReconcilePolicy{RemoveOrphans: !s.opts.KeepOrphans})
	s.restoreCached(verified)
	s.saveCache(ctx)

	s.plugins.EmitDidFinishLaunching()

	s.mu.Lock()
	s.syncDone = true
	publish := s.advanceLocked()
	pending := len(s.pending)
	if s.state == StateAwaitingDiscovery && s.opts.DiscoveryTimeout > 0 {
		s.discoveryTimer = s.clock.AfterFunc(s.opts.DiscoveryTimeout, s.abandonDiscovery)
	}
	s.mu.Unlock()

	if pending > 0 {
		s.logger.Info("Waiting for platforms to report their accessories",
			zap.Int("platforms", pending),
			zap.Duration("timeout", s.opts.DiscoveryTimeout))
	}
	if publish {
		s.publishBridge(s.runCtx)
	}
	return nil
}

func (s *Server) addConfiguredAccessory(inst pluginmgr.AccessoryInstance) {
	var acc *hap.Accessory
	var err error
	where := "services of accessory " + inst.DisplayName
	if !s.plugins.Guard(where, func() {
		acc, err = s.factory.Build(inst.Instance, inst.DisplayName, inst.TypeKey, accessory.UUIDBase(inst.Instance, inst.DisplayName))
	}) {
		return
	}
	if err != nil {
		s.logger.Error("Failed to create accessory",
			zap.String("accessory", inst.DisplayName),
			zap.String("type", inst.TypeKey),
			zap.Error(err))
		return
	}
	if acc == nil {
		s.logger.Warn("Accessory exposes no services, not bridging it", zap.String("accessory", inst.DisplayName))
		return
	}
	s.bridgeAccessory(acc)
}

func (s *Server) startPlatform(inst pluginmgr.PlatformInstance) {
	if inst.Caps.Configurable {
		s.remote.Register(inst.Key, inst.Instance.(plugin.ConfigurablePlatform), inst.Type, inst.Name)
	}
	if inst.Caps.Static {
		s.startDiscovery(inst)
	}
}

func (s *Server) bridgeAccessory(acc *hap.Accessory) {
	if err := s.bridge.AddBridgedAccessory(acc); err != nil {
		s.logger.Warn("Accessory is already bridged", zap.String("accessory", acc.DisplayName), zap.Error(err))
		return
	}
	n := len(s.bridge.BridgedAccessories())
	if n > MaxBridgedAccessories {
		s.logger.Warn("Bridge has more accessories than a controller accepts, consider a child bridge",
			zap.Int("accessories", n),
			zap.Int("max", MaxBridgedAccessories))
	}
	s.logger.Debug("Bridged accessory",
		zap.String("accessory", acc.DisplayName),
		zap.String("uuid", acc.UUID))
}

// restoreCached puts the reconciled accessories in front of anything
// registered while plugins were loading.
func (s *Server) restoreCached(verified []*plugin.PlatformAccessory) {
	s.mu.Lock()
	registered := make(map[string]bool, len(s.cached))
	for _, acc := range s.cached {
		registered[acc.UUID] = true
	}
	restored := make([]*plugin.PlatformAccessory, 0, len(verified)+len(s.cached))
	for _, acc := range verified {
		if !registered[acc.UUID] {
			restored = append(restored, acc)
		}
	}
	toBridge := append([]*plugin.PlatformAccessory(nil), restored...)
	s.cached = append(restored, s.cached...)
	s.mu.Unlock()

	for _, acc := range toBridge {
		s.factory.Watch(acc.Accessory)
		s.bridgeAccessory(acc.Accessory)
	}
}

// advanceLocked moves to Published when loading has finished and no
// discovery is pending. It reports whether the caller must publish.
func (s *Server) advanceLocked() bool {
	if !s.syncDone {
		return false
	}
	if s.state != StateLoading && s.state != StateAwaitingDiscovery {
		return false
	}
	if len(s.pending) > 0 {
		s.state = StateAwaitingDiscovery
		return false
	}
	s.state = StatePublished
	if s.discoveryTimer != nil {
		s.discoveryTimer.Stop()
		s.discoveryTimer = nil
	}
	return true
}

func (s *Server) publishBridge(ctx context.Context) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if s.state != StatePublished {
		s.mu.Unlock()
		return
	}
	s.addresses[s.cfg.Bridge.Username] = s.bridge.UUID
	s.mu.Unlock()

	setupID := s.cfg.SetupID()
	port, err := s.publisher.Publish(ctx, s.bridge, hap.PublishInfo{
		Username: s.cfg.Bridge.Username,
		PinCode:  s.cfg.Bridge.Pin,
		Category: hap.CategoryBridge,
		Port:     s.cfg.Bridge.Port,
		SetupID:  setupID,
		MDNS:     s.mdnsOptions(),
	})
	if err != nil {
		s.fault("publish bridge", err)
		return
	}

	uri, err := hap.SetupURI(s.cfg.Bridge.Pin, hap.CategoryBridge, setupID)
	if err != nil {
		s.logger.Warn("Failed to build setup URI", zap.Error(err))
	}

	s.mu.Lock()
	s.bridgePublished = true
	s.bridgePort = port
	s.setupURI = uri
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	s.logger.Info("Homebridge is running",
		zap.String("name", s.cfg.Bridge.Name),
		zap.String("username", s.cfg.Bridge.Username),
		zap.Int("port", port),
		zap.Int("accessories", len(s.bridge.BridgedAccessories())))
	s.emitter.Emit(ipc.EventRunning, map[string]any{"port": port})

	if uri != "" {
		s.emitter.Emit(ipc.EventSetupURI, uri)
		if !s.opts.HideQRCode {
			printSetupBanner(s.out, s.cfg.Bridge.Pin, uri)
		}
	}

	for _, q := range queued {
		_ = s.publishExternalLocked(ctx, q.plugin, q.accessory)
	}
}

func (s *Server) mdnsOptions() hap.MDNSOptions {
	if s.cfg.MDNS == nil {
		return hap.MDNSOptions{}
	}
	return hap.MDNSOptions{Interface: s.cfg.MDNS.Interface}
}

func (s *Server) accessoryChanged(change hap.CharacteristicChange) {
	s.emitter.Emit(ipc.EventAccessoryChange, ipc.AccessoryChange{
		UUID:           change.Accessory.UUID,
		Accessory:      change.Accessory.DisplayName,
		Service:        change.Service.DisplayName,
		Characteristic: change.Characteristic.Name,
		Value:          change.NewValue,
	})
}

// saveCache rewrites the cache with a snapshot of the cached set.
func (s *Server) saveCache(ctx context.Context) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.mu.Lock()
	snapshot := append([]*plugin.PlatformAccessory(nil), s.cached...)
	s.mu.Unlock()

	if err := s.cache.Save(ctx, snapshot); err != nil {
		s.logger.Error("Failed to write accessory cache", zap.Error(err))
	}
}

// Bridge returns the bridge accessory.
func (s *Server) Bridge() *hap.Accessory {
	return s.bridge
}

// State returns the current lifecycle phase.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteConfig returns the channel configuration requests go through.
func (s *Server) RemoteConfig() *remoteconfig.Channel {
	return s.remote
}

// Plugins returns the plugin manager.
func (s *Server) Plugins() *pluginmgr.Manager {
	return s.plugins
}

// Done is closed when teardown has finished.
func (s *Server) Done() <-chan struct{} {
	return s.terminated
}
