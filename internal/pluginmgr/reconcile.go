package pluginmgr

import (
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// ReconcilePolicy controls what happens to cached accessories whose platform
// is gone.
type ReconcilePolicy struct {
	RemoveOrphans bool
}

// Reconcile hands every cached accessory to its live dynamic platform and
// returns the accessories that stay in the cache, in their cached order.
// The owner is looked up as "plugin.platform" first, then by bare platform.
// Orphans are dropped unless the policy keeps them, in which case they are
// retained without being configured.
func (m *Manager) Reconcile(cached []*plugin.PlatformAccessory, policy ReconcilePolicy) []*plugin.PlatformAccessory {
	verified := make([]*plugin.PlatformAccessory, 0, len(cached))

	for _, acc := range cached {
		owner, ok := m.DynamicPlatform(acc.Owner())
		if !ok {
			owner, ok = m.DynamicPlatform(acc.PlatformName)
		}

		if !ok {
			if policy.RemoveOrphans {
				m.logger.Info("Removing orphaned accessory",
					zap.String("accessory", acc.DisplayName),
					zap.String("uuid", acc.UUID),
					zap.String("platform", acc.Owner()))
				continue
			}
			m.logger.Warn("Keeping orphaned accessory, its platform is not loaded",
				zap.String("accessory", acc.DisplayName),
				zap.String("uuid", acc.UUID),
				zap.String("platform", acc.Owner()))
			verified = append(verified, acc)
			continue
		}

		where := "configureAccessory of " + acc.Owner()
		if !m.Guard(where, func() { owner.ConfigureAccessory(acc) }) {
			continue
		}
		verified = append(verified, acc)
	}

	return verified
}
