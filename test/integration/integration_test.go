// Package integration runs the bridge end to end with the built-in plugins,
// a config.json on disk, a persistent accessory cache and the management API.
package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"homebridge/internal/api"
	"homebridge/internal/cache"
	"homebridge/internal/config"
	"homebridge/internal/ipc"
	"homebridge/internal/pluginmgr"
	_ "homebridge/internal/plugins/all"
	"homebridge/internal/server"
	"homebridge/internal/storage"
	"homebridge/pkg/plugin"
	"homebridge/pkg/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConfig = `{
  "bridge": {
    "name": "Integration Bridge",
    "username": "CC:22:3D:E3:CE:30",
    "port": 51826,
    "pin": "031-45-154"
  },
  "accessories": [
    {"accessory": "DummySwitch", "name": "Night Mode", "stateful": true},
    {"accessory": "homebridge-dummy.DummyOutlet", "name": "Fan"}
  ],
  "platforms": [
    {"platform": "DemoPlatform", "name": "Demo", "lights": ["Kitchen", "Porch"]},
    {
      "platform": "SensorPlatform",
      "name": "Sensors",
      "sensors": [
        {"name": "Attic", "kind": "temperature", "value": 21.5},
        {"name": "Front Door", "kind": "contact"}
      ]
    },
    {"platform": "Television", "name": "Living Room TV", "inputs": ["HDMI 1", "HDMI 2"]}
  ]
}`

// syncBuffer is a bytes.Buffer safe for the emitter and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// bridgeProcess is one run of the bridge against a storage directory.
type bridgeProcess struct {
	dir       string
	loader    *config.Loader
	store     storage.Store
	server    *server.Server
	publisher *testutil.FakePublisher
	events    *syncBuffer
	api       *httptest.Server
}

// writeConfig writes config.json into a new storage directory.
func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(doc), 0o644))
	return dir
}

// startBridge runs the bridge the way the command does, with the publisher
// replaced by a fake. It waits until the bridge and n external accessories
// are published.
func startBridge(t *testing.T, dir, driver string, externals int) *bridgeProcess {
	t.Helper()
	logger := zap.NewNop()

	opts := config.DefaultOptions()
	opts.StoragePath = dir
	opts.StorageDriver = driver

	store, err := storage.Open(driver, opts.CachePath())
	require.NoError(t, err)

	p := &bridgeProcess{
		dir:       dir,
		loader:    config.NewLoader(opts.ConfigPath(), logger),
		store:     store,
		publisher: testutil.NewFakePublisher(),
		events:    &syncBuffer{},
	}

	emitter := ipc.NewEmitter(logger)
	emitter.AddSink(ipc.NewWriterSink(p.events))

	p.server, err = server.New(server.Options{
		Logger:        logger,
		Config:        p.loader.Load(),
		Loader:        p.loader,
		Cache:         cache.New(store, logger),
		Descriptors:   pluginmgr.Discover(plugin.Global(), nil, logger),
		StoragePath:   dir,
		Publisher:     p.publisher,
		Emitter:       emitter,
		HideQRCode:    true,
		ShutdownGrace: time.Second,
		Terminate:     func() { t.Errorf("bridge asked to terminate") },
	})
	require.NoError(t, err)

	p.api = httptest.NewServer(api.NewServer(p.server, nil, logger, "").Handler())

	require.NoError(t, p.server.Start(context.Background()))
	require.True(t, p.publisher.WaitForPublishes(1+externals, 2*time.Second),
		"bridge and %d external accessories are published", externals)

	t.Cleanup(p.stop)
	return p
}

// stop tears the bridge down and closes the cache store. Calling it again is
// harmless.
func (p *bridgeProcess) stop() {
	p.api.Close()
	_ = p.server.Teardown(context.Background())
	_ = p.store.Close()
}

func (p *bridgeProcess) bridgedNames() []string {
	var names []string
	for _, acc := range p.server.Bridge().BridgedAccessories() {
		names = append(names, acc.DisplayName)
	}
	return names
}

// eventIDs decodes the JSON lines written to the event sink.
func (p *bridgeProcess) eventIDs(t *testing.T) []ipc.EventType {
	t.Helper()
	var ids []ipc.EventType
	scanner := bufio.NewScanner(bytes.NewBufferString(p.events.String()))
	for scanner.Scan() {
		var ev struct {
			ID ipc.EventType `json:"id"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		ids = append(ids, ev.ID)
	}
	return ids
}

// savedConfig reads config.json back from disk.
func (p *bridgeProcess) savedConfig(t *testing.T) *config.Config {
	t.Helper()
	return config.NewLoader(filepath.Join(p.dir, "config.json"), zap.NewNop()).Load()
}
