package testutil

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"homebridge/internal/cache"
	"homebridge/internal/clock"
	"homebridge/internal/config"
	"homebridge/internal/ipc"
	"homebridge/internal/pluginmgr"
	"homebridge/internal/server"
	"homebridge/internal/storage"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// EnvOptions configures a TestEnv.
type EnvOptions struct {
	// Config defaults to config.Default().
	Config *config.Config
	// Modules are registered as compiled-in plugins, in order.
	Modules []plugin.ModuleInfo
	// Store is shared between environments to simulate a restart. A new
	// memory store is used when nil.
	Store *storage.MemoryStore
	// StoragePath is handed to plugins. Config changes are kept in memory.
	StoragePath string

	KeepOrphans      bool
	HideQRCode       bool
	DiscoveryTimeout time.Duration
	ShutdownGrace    time.Duration
	AddressFunc      func(uuid string) string
	// RealClock runs timers on the wall clock instead of the mock.
	RealClock bool
}

// TestEnv provides a complete bridge running in memory: plugins are
// compiled-in modules, the cache lives in a memory store and publishing is
// recorded instead of going to the network.
type TestEnv struct {
	Server    *server.Server
	Publisher *FakePublisher
	Events    *EventRecorder
	Store     *storage.MemoryStore
	Clock     *clock.Mock
	Config    *config.Config
	Logger    *zap.Logger
	// Output holds the setup banner.
	Output *bytes.Buffer

	terminations atomic.Int32
}

// NewTestEnv creates a server for the given modules. It does not start it.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(testutil.EnvOptions{Modules: modules})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//	require.NoError(t, env.Start())
func NewTestEnv(opts EnvOptions) (*TestEnv, error) {
	logger := zap.NewNop()

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Normalize(logger)

	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}

	registry := plugin.NewRegistry()
	for _, m := range opts.Modules {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register module %s: %w", m.Name, err)
		}
	}

	env := &TestEnv{
		Publisher: NewFakePublisher(),
		Events:    NewEventRecorder(),
		Store:     store,
		Clock:     clock.NewMock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		Config:    cfg,
		Logger:    logger,
		Output:    &bytes.Buffer{},
	}

	emitter := ipc.NewEmitter(logger)
	emitter.AddSink(env.Events)

	var clk clock.Clock = env.Clock
	if opts.RealClock {
		clk = clock.New()
	}

	srv, err := server.New(server.Options{
		Logger:           logger,
		Config:           cfg,
		Cache:            cache.New(store, logger),
		Descriptors:      pluginmgr.Discover(registry, nil, logger),
		StoragePath:      opts.StoragePath,
		Publisher:        env.Publisher,
		Emitter:          emitter,
		Clock:            clk,
		KeepOrphans:      opts.KeepOrphans,
		HideQRCode:       opts.HideQRCode,
		DiscoveryTimeout: opts.DiscoveryTimeout,
		ShutdownGrace:    opts.ShutdownGrace,
		AddressFunc:      opts.AddressFunc,
		Terminate:        func() { env.terminations.Add(1) },
		Output:           env.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	env.Server = srv
	return env, nil
}

// Start starts the server.
func (e *TestEnv) Start() error {
	return e.Server.Start(context.Background())
}

// Terminations returns how often a fault asked the process to shut down.
func (e *TestEnv) Terminations() int {
	return int(e.terminations.Load())
}

// Cleanup tears the server down. Always call this in a defer after
// creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Server != nil {
		_ = e.Server.Teardown(context.Background())
	}
}
