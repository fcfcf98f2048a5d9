package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homebridge/internal/api"
	"homebridge/internal/cache"
	"homebridge/internal/config"
	"homebridge/internal/ipc"
	"homebridge/internal/logging"
	"homebridge/internal/pluginmgr"
	_ "homebridge/internal/plugins/all"
	"homebridge/internal/server"
	"homebridge/internal/storage"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type runFunc func(ctx context.Context, opts config.Options) error

func newRootCommand(run runFunc) *cobra.Command {
	opts := config.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "homebridge",
		Short: "HomeKit bridge hosting accessory plugins",
		Long: `homebridge loads accessory plugins, restores their cached accessories and
publishes them to HomeKit controllers behind a single bridge.

Every flag can also be set through the environment variable named in its
description. A .env file in the working directory is loaded first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	registerFlags(cmd.Flags(), &opts)
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func registerFlags(flags *pflag.FlagSet, o *config.Options) {
	flags.SortFlags = false
	flags.StringVarP(&o.StoragePath, "user-storage-path", "U", o.StoragePath, "directory holding config.json and the accessory cache (HOMEBRIDGE_STORAGE_PATH)")
	flags.StringArrayVarP(&o.PluginPaths, "plugin-path", "P", o.PluginPaths, "additional directory searched for plugins, repeatable (HOMEBRIDGE_PLUGIN_PATH)")
	flags.BoolVarP(&o.Debug, "debug", "D", o.Debug, "enable debug logging (HOMEBRIDGE_DEBUG)")
	flags.BoolVarP(&o.KeepOrphans, "keep-orphans", "K", o.KeepOrphans, "keep cached accessories whose platform is gone (HOMEBRIDGE_KEEP_ORPHANS)")
	flags.BoolVarP(&o.HideQRCode, "no-qrcode", "Q", o.HideQRCode, "do not print the setup code banner (HOMEBRIDGE_HIDE_QR)")
	flags.BoolVarP(&o.NoTimestamps, "no-timestamps", "T", o.NoTimestamps, "omit timestamps from log output (HOMEBRIDGE_NO_TIMESTAMPS)")
	flags.BoolVar(&o.JSONLogs, "json-logs", o.JSONLogs, "log as JSON (HOMEBRIDGE_JSON_LOGS)")
	flags.DurationVar(&o.DiscoveryTimeout, "discovery-timeout", o.DiscoveryTimeout, "stop waiting for platforms after this long, 0 waits forever (HOMEBRIDGE_DISCOVERY_TIMEOUT)")
	flags.DurationVar(&o.ShutdownGrace, "shutdown-grace", o.ShutdownGrace, "how long shutdown waits for plugins (HOMEBRIDGE_SHUTDOWN_GRACE)")
	flags.StringVar(&o.StorageDriver, "storage-driver", o.StorageDriver, "accessory cache backend: file or sqlite (HOMEBRIDGE_STORAGE_DRIVER)")
	flags.StringVar(&o.APIAddr, "api-addr", o.APIAddr, "listen address of the management API, empty disables it (HOMEBRIDGE_API_ADDR)")
	flags.IntVar(&o.IPCFD, "ipc-fd", o.IPCFD, "inherited file descriptor receiving events as JSON lines (HOMEBRIDGE_IPC_FD)")
	flags.StringVar(&o.MQTTBroker, "mqtt-broker", o.MQTTBroker, "MQTT broker receiving events, e.g. tcp://localhost:1883 (HOMEBRIDGE_MQTT_BROKER)")
	flags.StringVar(&o.MQTTTopic, "mqtt-topic", o.MQTTTopic, "MQTT topic events are published under (HOMEBRIDGE_MQTT_TOPIC)")
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func run(ctx context.Context, opts config.Options) error {
	forwarder := logging.NewForwarder()
	logger, err := logging.New(logging.Options{
		Debug:        opts.Debug,
		NoTimestamps: opts.NoTimestamps,
		JSON:         opts.JSONLogs,
	}, forwarder.Hook)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if envFileErr != nil && !errors.Is(envFileErr, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(envFileErr))
	}

	logger.Info("Starting Homebridge",
		zap.String("version", version),
		zap.String("storage", opts.StoragePath),
		zap.Strings("plugin_paths", opts.PluginPaths))

	if err := os.MkdirAll(opts.StoragePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	emitter := ipc.NewEmitter(logger)
	defer emitter.Close()
	forwarder.Attach(emitter.ForwardLog)
	defer forwarder.Attach(nil)

	if opts.IPCFD > 0 {
		sink, err := ipc.NewFDSink(opts.IPCFD)
		if err != nil {
			return err
		}
		emitter.AddSink(sink)
	}
	if opts.MQTTBroker != "" {
		sink, err := ipc.DialMQTT(opts.MQTTBroker, "homebridge-"+uuid.NewString()[:8], opts.MQTTTopic, logger)
		if err != nil {
			logger.Error("Failed to connect to MQTT broker, events will not be forwarded there",
				zap.String("broker", opts.MQTTBroker),
				zap.Error(err))
		} else {
			emitter.AddSink(sink)
		}
	}

	store, err := storage.Open(opts.StorageDriver, opts.CachePath())
	if err != nil {
		return fmt.Errorf("failed to open accessory cache: %w", err)
	}
	defer store.Close()

	loader := config.NewLoader(opts.ConfigPath(), logger)
	cfg := loader.Load()

	srv, err := server.New(server.Options{
		Logger:           logger,
		Config:           cfg,
		Loader:           loader,
		Cache:            cache.New(store, logger),
		Descriptors:      pluginmgr.Discover(plugin.Global(), opts.PluginPaths, logger),
		StoragePath:      opts.StoragePath,
		Publisher:        hap.NewMDNSPublisher(logger),
		Emitter:          emitter,
		Version:          version,
		KeepOrphans:      opts.KeepOrphans,
		HideQRCode:       opts.HideQRCode,
		DiscoveryTimeout: opts.DiscoveryTimeout,
		ShutdownGrace:    opts.ShutdownGrace,
	})
	if err != nil {
		return err
	}

	if opts.APIAddr != "" {
		hub := api.NewHub(logger)
		emitter.AddSink(hub)
		apiServer := api.NewServer(srv, hub, logger, opts.APIAddr)
		if err := apiServer.Start(); err != nil {
			return err
		}
		defer func() {
			if err := apiServer.Stop(); err != nil {
				logger.Warn("Failed to stop HTTP API server", zap.Error(err))
			}
		}()
	}
	emitter.Emit(ipc.EventAPILaunched, nil)

	// Setup signal handling for graceful shutdown
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	forwarded := watchShutdown(signals, opts.ShutdownGrace, srv.Done(), func() {
		logger.Error("Shutdown did not finish in time, exiting", zap.Duration("grace", opts.ShutdownGrace))
		_ = logger.Sync()
		os.Exit(1)
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}

	srv.HandleSignals(ctx, forwarded)
	<-srv.Done()

	logger.Info("Homebridge stopped")
	return nil
}

// forceExitMargin is added to the shutdown grace before the process gives up
// on teardown.
const forceExitMargin = time.Second

// watchShutdown forwards signals to the returned channel. Once the first one
// arrived, exit runs unless done closes within the grace period plus
// forceExitMargin. A zero grace never forces an exit.
func watchShutdown(signals <-chan os.Signal, grace time.Duration, done <-chan struct{}, exit func()) <-chan os.Signal {
	forwarded := make(chan os.Signal, cap(signals))
	go func() {
		var deadline <-chan time.Time
		for {
			select {
			case sig := <-signals:
				if deadline == nil && grace > 0 {
					deadline = time.After(grace + forceExitMargin)
				}
				select {
				case forwarded <- sig:
				default:
				}
			case <-deadline:
				exit()
				return
			case <-done:
				return
			}
		}
	}()
	return forwarded
}
