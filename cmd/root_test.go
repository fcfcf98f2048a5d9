package main

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"homebridge/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) config.Options {
	t.Helper()
	var got config.Options
	cmd := newRootCommand(func(_ context.Context, opts config.Options) error {
		got = opts
		return nil
	})
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	return got
}

func TestRootCommand_Flags(t *testing.T) {
	dir := t.TempDir()

	opts := execute(t,
		"-U", dir,
		"-P", "/opt/plugins",
		"-P", "/srv/plugins",
		"-D", "-K", "-Q", "-T",
		"--discovery-timeout", "30s",
		"--shutdown-grace", "2s",
		"--storage-driver", config.StorageDriverSQLite,
		"--api-addr", ":8581",
	)

	assert.Equal(t, dir, opts.StoragePath)
	assert.Equal(t, []string{"/opt/plugins", "/srv/plugins"}, opts.PluginPaths)
	assert.True(t, opts.Debug)
	assert.True(t, opts.KeepOrphans)
	assert.True(t, opts.HideQRCode)
	assert.True(t, opts.NoTimestamps)
	assert.Equal(t, 30*time.Second, opts.DiscoveryTimeout)
	assert.Equal(t, 2*time.Second, opts.ShutdownGrace)
	assert.Equal(t, config.StorageDriverSQLite, opts.StorageDriver)
	assert.Equal(t, ":8581", opts.APIAddr)
}

func TestRootCommand_EnvironmentDefaults(t *testing.T) {
	t.Setenv("HOMEBRIDGE_STORAGE_DRIVER", config.StorageDriverSQLite)
	t.Setenv("HOMEBRIDGE_DEBUG", "true")
	t.Setenv("HOMEBRIDGE_DISCOVERY_TIMEOUT", "1m")
	t.Setenv("HOMEBRIDGE_MQTT_TOPIC", "home/bridge")

	opts := execute(t)

	assert.Equal(t, config.StorageDriverSQLite, opts.StorageDriver)
	assert.True(t, opts.Debug)
	assert.Equal(t, time.Minute, opts.DiscoveryTimeout)
	assert.Equal(t, "home/bridge", opts.MQTTTopic)
	assert.Equal(t, 5*time.Second, opts.ShutdownGrace)
}

func TestRootCommand_RejectsArguments(t *testing.T) {
	cmd := newRootCommand(func(context.Context, config.Options) error { return nil })
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand(func(context.Context, config.Options) error {
		t.Fatal("run must not be called for the version command")
		return nil
	})
	out := &bytes.Buffer{}
	cmd.SetArgs([]string{"version"})
	cmd.SetOut(out)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestWatchShutdown_ForcesExitWhenTeardownHangs(t *testing.T) {
	signals := make(chan os.Signal, 2)
	done := make(chan struct{})
	var exits atomic.Int32

	forwarded := watchShutdown(signals, 10*time.Millisecond, done, func() { exits.Add(1) })
	signals <- syscall.SIGTERM

	select {
	case sig := <-forwarded:
		assert.Equal(t, syscall.SIGTERM, sig)
	case <-time.After(time.Second):
		t.Fatal("signal was not forwarded")
	}
	require.Eventually(t, func() bool { return exits.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatchShutdown_NoExitAfterCleanTeardown(t *testing.T) {
	signals := make(chan os.Signal, 2)
	done := make(chan struct{})
	var exits atomic.Int32

	forwarded := watchShutdown(signals, 10*time.Millisecond, done, func() { exits.Add(1) })
	signals <- syscall.SIGINT
	<-forwarded
	close(done)

	time.Sleep(forceExitMargin + 100*time.Millisecond)
	assert.Zero(t, exits.Load())
}
