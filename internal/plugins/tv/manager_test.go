package tv

import (
	"testing"

	"homebridge/internal/config"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"
	"homebridge/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTV(t *testing.T, entry plugin.Config) *testutil.TestEnv {
	t.Helper()
	module := plugin.Get(PluginName)
	require.NotNil(t, module)

	cfg := config.Default()
	cfg.Platforms = []plugin.Config{entry}
	env, err := testutil.NewTestEnv(testutil.EnvOptions{Config: cfg, Modules: []plugin.ModuleInfo{*module}})
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)
	require.NoError(t, env.Start())
	return env
}

func TestTelevision_PublishedExternally(t *testing.T) {
	env := startTV(t, plugin.Config{
		"platform": PlatformType,
		"name":     "Living Room",
		"inputs":   []string{"Apple TV", "Console"},
	})

	calls := env.Publisher.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, config.DefaultBridgeName, calls[0].DisplayName)
	assert.Equal(t, "Living Room", calls[1].DisplayName)
	assert.Equal(t, hap.CategoryTelevision, calls[1].Info.Category)
	assert.Equal(t, hap.GenerateMAC(calls[1].UUID), calls[1].Info.Username)

	assert.Empty(t, env.Server.Bridge().BridgedAccessories())

	accs := env.Server.Accessories()
	require.Len(t, accs, 1)
	assert.True(t, accs[0].External)
	assert.Equal(t, PluginName, accs[0].Plugin)
	assert.Contains(t, accs[0].Services, "Living Room Speaker")
	assert.Contains(t, accs[0].Services, "Console")
}

func TestTelevision_Controls(t *testing.T) {
	env := startTV(t, plugin.Config{
		"platform": PlatformType,
		"name":     "Bedroom",
		"inputs":   []string{"Antenna", "HDMI 2"},
	})
	require.Len(t, env.Publisher.Calls(), 2)

	var m *Manager
	for _, p := range env.Server.Plugins().Platforms() {
		m = p.Instance.(*Manager)
	}
	require.NotNil(t, m)

	tv := m.Accessory().Service(hap.ServiceTelevision)
	require.NoError(t, tv.Characteristic(hap.CharacteristicActive).Write(1))
	require.NoError(t, tv.Characteristic(hap.CharacteristicActiveIdentifier).Write(2))
	assert.Error(t, tv.Characteristic(hap.CharacteristicActiveIdentifier).Write(3))

	speaker := m.Accessory().Service(hap.ServiceSpeaker)
	require.NoError(t, speaker.Characteristic(hap.CharacteristicVolume).Write(40))
	assert.Error(t, speaker.Characteristic(hap.CharacteristicVolume).Write(140))

	assert.Equal(t, State{Active: true, Input: "HDMI 2", Volume: 40}, m.State())
}

func TestNewManager_RequiresName(t *testing.T) {
	_, err := NewManager(plugin.NewContext(nil, plugin.Config{"platform": PlatformType}, nil))
	assert.Error(t, err)
}
