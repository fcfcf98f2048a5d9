package server

import (
	"context"
	"fmt"

	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// PublishExternalAccessories publishes accessories on their own address
// instead of behind the bridge. Requests made before the bridge is published
// are queued and handled, in order, right after it.
func (s *Server) PublishExternalAccessories(pluginName string, accessories []*plugin.PlatformAccessory) {
	for _, acc := range accessories {
		if acc == nil {
			continue
		}

		s.mu.Lock()
		state := s.state
		if !s.bridgePublished && (state == StateLoading || state == StateAwaitingDiscovery || state == StatePublished) {
			s.queued = append(s.queued, queuedExternal{plugin: pluginName, accessory: acc})
			s.mu.Unlock()
			s.logger.Debug("External accessory queued until the bridge is published",
				zap.String("accessory", acc.DisplayName))
			continue
		}
		s.mu.Unlock()

		if state == StateUnpublishing || state == StateTerminated {
			s.logger.Warn("Not publishing external accessory while shutting down",
				zap.String("accessory", acc.DisplayName))
			continue
		}

		_ = s.publishExternal(s.runCtx, pluginName, acc)
	}
}

func (s *Server) publishExternal(ctx context.Context, pluginName string, acc *plugin.PlatformAccessory) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	return s.publishExternalLocked(ctx, pluginName, acc)
}

// publishExternalLocked expects publishMu to be held.
func (s *Server) publishExternalLocked(ctx context.Context, pluginName string, acc *plugin.PlatformAccessory) error {
	address := s.address(acc.UUID)

	s.mu.Lock()
	if state := s.state; state != StatePublished {
		s.mu.Unlock()
		return fmt.Errorf("bridge is %s, not publishing %s", state, acc.DisplayName)
	}
	if owner, taken := s.addresses[address]; taken {
		s.mu.Unlock()
		s.logger.Warn("Accessory address is already in use, not publishing",
			zap.String("accessory", acc.DisplayName),
			zap.String("uuid", acc.UUID),
			zap.String("address", address),
			zap.String("owner", owner))
		return fmt.Errorf("%w: %s (%s)", ErrAddressInUse, acc.DisplayName, address)
	}
	s.addresses[address] = acc.UUID
	s.mu.Unlock()

	port := s.ports.Next()
	if port == 0 && s.ports.Enabled() {
		s.logger.Warn("External port pool is exhausted, letting the system choose a port",
			zap.String("accessory", acc.DisplayName))
	}

	if acc.PluginName == "" {
		acc.PluginName = pluginName
	}
	s.factory.Watch(acc.Accessory)

	setupID := hap.GenerateSetupID(address)
	bound, err := s.publisher.Publish(ctx, acc.Accessory, hap.PublishInfo{
		Username: address,
		PinCode:  s.cfg.Bridge.Pin,
		Category: acc.Category,
		Port:     port,
		SetupID:  setupID,
		MDNS:     s.mdnsOptions(),
	})
	if err != nil {
		s.fault("publish external accessory "+acc.DisplayName, err)
		return fmt.Errorf("failed to publish %s: %w", acc.DisplayName, err)
	}

	s.mu.Lock()
	s.externals = append(s.externals, &externalAccessory{accessory: acc, address: address, port: bound})
	s.mu.Unlock()

	uri, _ := hap.SetupURI(s.cfg.Bridge.Pin, acc.Category, setupID)
	s.logger.Info("Published external accessory",
		zap.String("accessory", acc.DisplayName),
		zap.String("plugin", acc.PluginName),
		zap.String("address", address),
		zap.Int("port", bound),
		zap.String("setup_uri", uri))
	return nil
}
