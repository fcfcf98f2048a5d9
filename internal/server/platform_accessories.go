package server

import (
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// RegisterPlatformAccessories bridges accessories of a dynamic platform and
// adds them to the cache.
func (s *Server) RegisterPlatformAccessories(pluginName, platformType string, accessories []*plugin.PlatformAccessory) {
	var added []*plugin.PlatformAccessory

	s.mu.Lock()
	if s.state == StateUnpublishing || s.state == StateTerminated {
		s.mu.Unlock()
		s.logger.Warn("Ignoring accessory registration during shutdown", zap.String("plugin", pluginName))
		return
	}
	for _, acc := range accessories {
		if acc == nil {
			continue
		}
		if s.cachedIndexLocked(acc.UUID) >= 0 {
			s.logger.Warn("Accessory is already registered, ignoring",
				zap.String("accessory", acc.DisplayName),
				zap.String("uuid", acc.UUID))
			continue
		}
		acc.PluginName = pluginName
		acc.PlatformName = platformType
		s.cached = append(s.cached, acc)
		added = append(added, acc)
	}
	s.mu.Unlock()

	for _, acc := range added {
		s.factory.Watch(acc.Accessory)
		s.bridgeAccessory(acc.Accessory)
	}
	if len(added) > 0 {
		s.logger.Info("Registered platform accessories",
			zap.String("platform", pluginName+"."+platformType),
			zap.Int("count", len(added)))
		s.saveCache(s.runCtx)
	}
}

// UpdatePlatformAccessories persists changes plugins made to registered
// accessories.
func (s *Server) UpdatePlatformAccessories(accessories []*plugin.PlatformAccessory) {
	known := 0
	s.mu.Lock()
	for _, acc := range accessories {
		if acc != nil && s.cachedIndexLocked(acc.UUID) >= 0 {
			known++
		}
	}
	s.mu.Unlock()

	if known < len(accessories) {
		s.logger.Warn("Some updated accessories were never registered",
			zap.Int("updated", len(accessories)),
			zap.Int("registered", known))
	}
	s.saveCache(s.runCtx)
}

// UnregisterPlatformAccessories removes accessories from the bridge and the
// cache.
func (s *Server) UnregisterPlatformAccessories(pluginName, platformType string, accessories []*plugin.PlatformAccessory) {
	var removed []*plugin.PlatformAccessory

	s.mu.Lock()
	for _, acc := range accessories {
		if acc == nil {
			continue
		}
		idx := s.cachedIndexLocked(acc.UUID)
		if idx < 0 {
			continue
		}
		removed = append(removed, s.cached[idx])
		s.cached = append(s.cached[:idx], s.cached[idx+1:]...)
	}
	s.mu.Unlock()

	for _, acc := range removed {
		s.bridge.RemoveBridgedAccessory(acc.UUID)
	}
	s.logger.Info("Unregistered platform accessories",
		zap.String("platform", pluginName+"."+platformType),
		zap.Int("count", len(removed)))
	s.saveCache(s.runCtx)
}

func (s *Server) cachedIndexLocked(uuid string) int {
	for i, acc := range s.cached {
		if acc.UUID == uuid {
			return i
		}
	}
	return -1
}
