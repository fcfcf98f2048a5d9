package server

import (
	"sort"
	"sync/atomic"
	"time"

	"homebridge/internal/accessory"
	"homebridge/internal/pluginmgr"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// discoveryTask tracks one static platform that has not reported its
// accessories yet. Only the first report counts.
type discoveryTask struct {
	platform pluginmgr.PlatformInstance
	started  time.Time
	calls    atomic.Int32
	// claimed is set under Server.mu once the report is being processed.
	// The discovery timeout does not abandon claimed tasks.
	claimed  bool
}

func (s *Server) startDiscovery(inst pluginmgr.PlatformInstance) {
	task := &discoveryTask{platform: inst, started: s.clock.Now()}

	s.mu.Lock()
	s.pending[task] = struct{}{}
	s.mu.Unlock()

	done := func(accessories []plugin.AccessoryPlugin) {
		if task.calls.Add(1) > 1 {
			s.logger.Warn("Platform reported its accessories more than once, ignoring",
				zap.String("platform", inst.Key),
				zap.String("name", inst.Name))
			return
		}
		s.completeDiscovery(task, accessories)
	}

	static := inst.Instance.(plugin.StaticPlatform)
	if !s.plugins.Guard("accessories of platform "+inst.Key, func() { static.Accessories(done) }) {
		// The platform will not report; stop waiting for it.
		task.calls.Add(1)
		s.mu.Lock()
		delete(s.pending, task)
		publish := s.advanceLocked()
		s.mu.Unlock()
		if publish {
			s.publishBridge(s.runCtx)
		}
	}
}

func (s *Server) completeDiscovery(task *discoveryTask, accessories []plugin.AccessoryPlugin) {
	s.mu.Lock()
	_, waiting := s.pending[task]
	if waiting {
		task.claimed = true
	}
	s.mu.Unlock()
	if !waiting {
		s.logger.Warn("Platform reported its accessories after discovery timed out, ignoring",
			zap.String("platform", task.platform.Key),
			zap.String("name", task.platform.Name))
		return
	}

	bridged := 0
	for _, instance := range accessories {
		if instance == nil {
			continue
		}
		var acc *hap.Accessory
		var err error
		where := "services of an accessory of platform " + task.platform.Key
		if !s.plugins.Guard(where, func() {
			name := instance.Name()
			acc, err = s.factory.Build(instance, name, task.platform.Key, accessory.UUIDBase(instance, name))
		}) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to create platform accessory",
				zap.String("platform", task.platform.Key),
				zap.Error(err))
			continue
		}
		if acc == nil {
			continue
		}
		s.bridgeAccessory(acc)
		bridged++
	}

	s.logger.Info("Platform reported its accessories",
		zap.String("platform", task.platform.Key),
		zap.String("name", task.platform.Name),
		zap.Int("accessories", bridged),
		zap.Duration("elapsed", s.clock.Now().Sub(task.started)))

	s.mu.Lock()
	delete(s.pending, task)
	publish := s.advanceLocked()
	s.mu.Unlock()

	if publish {
		s.publishBridge(s.runCtx)
	}
}

// abandonDiscovery gives up on platforms that did not report within the
// discovery timeout and publishes what is there. Platforms whose report is
// already being processed are still waited for.
func (s *Server) abandonDiscovery() {
	s.mu.Lock()
	if s.state != StateAwaitingDiscovery {
		s.mu.Unlock()
		return
	}
	var names []string
	for task := range s.pending {
		if task.claimed {
			continue
		}
		names = append(names, task.platform.Key)
		delete(s.pending, task)
	}
	s.discoveryTimer = nil
	publish := s.advanceLocked()
	s.mu.Unlock()

	if len(names) > 0 {
		sort.Strings(names)
		s.logger.Warn("Platforms did not report their accessories in time, publishing without them",
			zap.Strings("platforms", names),
			zap.Duration("timeout", s.opts.DiscoveryTimeout))
	}

	if publish {
		s.publishBridge(s.runCtx)
	}
}

// PendingDiscovery returns the platforms that have not reported yet.
func (s *Server) PendingDiscovery() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for task := range s.pending {
		names = append(names, task.platform.Key)
	}
	sort.Strings(names)
	return names
}
