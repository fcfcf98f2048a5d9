package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"homebridge/internal/config"
	"homebridge/internal/ipc"
	"homebridge/internal/plugins/demoplatform"
	"homebridge/internal/server"
	"homebridge/pkg/hap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartup_BuiltinPlugins(t *testing.T) {
	p := startBridge(t, writeConfig(t, testConfig), config.StorageDriverFile, 1)

	assert.Equal(t, server.StatePublished, p.server.State())
	assert.ElementsMatch(t,
		[]string{"Night Mode", "Fan", "Kitchen", "Porch", "Attic", "Front Door"},
		p.bridgedNames())

	calls := p.publisher.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Integration Bridge", calls[0].DisplayName, "the bridge is published first")
	assert.Equal(t, hap.CategoryBridge, calls[0].Info.Category)
	assert.Equal(t, "031-45-154", calls[0].Info.PinCode)
	assert.Equal(t, "Living Room TV", calls[1].DisplayName)
	assert.Equal(t, hap.CategoryTelevision, calls[1].Info.Category)
	assert.Equal(t, "031-45-154", calls[1].Info.PinCode)

	ids := p.eventIDs(t)
	assert.Contains(t, ids, ipc.EventRunning)
	assert.Contains(t, ids, ipc.EventSetupURI)
}

func TestStartup_AccessoryChangesAreEmitted(t *testing.T) {
	p := startBridge(t, writeConfig(t, testConfig), config.StorageDriverFile, 1)

	var nightMode *hap.Accessory
	for _, acc := range p.server.Bridge().BridgedAccessories() {
		if acc.DisplayName == "Night Mode" {
			nightMode = acc
		}
	}
	require.NotNil(t, nightMode)
	require.NoError(t, nightMode.Service(hap.ServiceSwitch).Characteristic(hap.CharacteristicOn).Write(true))

	assert.Contains(t, p.eventIDs(t), ipc.EventAccessoryChange)
}

func TestStartup_ManagementAPI(t *testing.T) {
	p := startBridge(t, writeConfig(t, testConfig), config.StorageDriverFile, 1)

	resp, err := http.Get(p.api.URL + "/api/bridge")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		State    string `json:"state"`
		Name     string `json:"name"`
		SetupURI string `json:"setupURI"`
		Plugins  []struct {
			Name    string `json:"name"`
			Builtin bool   `json:"builtin"`
		} `json:"plugins"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, server.StatePublished.String(), status.State)
	assert.Equal(t, "Integration Bridge", status.Name)
	assert.Contains(t, status.SetupURI, "X-HM://")
	assert.Len(t, status.Plugins, 6)

	resp, err = http.Get(p.api.URL + "/api/accessories")
	require.NoError(t, err)
	defer resp.Body.Close()

	var accessories []server.AccessoryInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accessories))
	require.Len(t, accessories, 7)

	external := accessories[len(accessories)-1]
	assert.True(t, external.External)
	assert.Equal(t, "Living Room TV", external.Name)

	lights := 0
	for _, acc := range accessories {
		if acc.Plugin == demoplatform.PluginName {
			assert.Equal(t, demoplatform.PlatformType, acc.Platform)
			lights++
		}
	}
	assert.Equal(t, 2, lights)
}
