package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"homebridge/internal/config"
	"homebridge/internal/plugins/demoplatform"
	"homebridge/pkg/hap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var drivers = []string{config.StorageDriverFile, config.StorageDriverSQLite}

func TestRestart_LightStateIsRestoredFromCache(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			dir := writeConfig(t, testConfig)

			first := startBridge(t, dir, driver, 1)
			kitchen := first.server.Bridge().BridgedAccessory(demoplatform.LightUUID("Kitchen"))
			require.NotNil(t, kitchen)
			require.NoError(t, kitchen.Service(hap.ServiceLightbulb).Characteristic(hap.CharacteristicOn).Write(true))
			first.stop()

			second := startBridge(t, dir, driver, 1)
			kitchen = second.server.Bridge().BridgedAccessory(demoplatform.LightUUID("Kitchen"))
			require.NotNil(t, kitchen)
			assert.Equal(t, true, kitchen.Service(hap.ServiceLightbulb).Characteristic(hap.CharacteristicOn).Value())
			porch := second.server.Bridge().BridgedAccessory(demoplatform.LightUUID("Porch"))
			require.NotNil(t, porch)
			assert.Equal(t, false, porch.Service(hap.ServiceLightbulb).Characteristic(hap.CharacteristicOn).Value())
		})
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRestart_PlatformConfigurationIsSaved(t *testing.T) {
	dir := writeConfig(t, testConfig)
	first := startBridge(t, dir, config.StorageDriverSQLite, 1)

	resp := postJSON(t, first.api.URL+"/api/platforms/Demo/configure", map[string]any{"add": "Garage"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []any{"Kitchen", "Porch", "Garage"}, body["lights"])

	require.NotNil(t, first.server.Bridge().BridgedAccessory(demoplatform.LightUUID("Garage")),
		"the platform registers the new light right away")

	saved := first.savedConfig(t)
	require.Len(t, saved.Platforms, 3)
	assert.Equal(t, demoplatform.PlatformType, saved.Platforms[0]["platform"])
	assert.Equal(t, []any{"Kitchen", "Porch", "Garage"}, saved.Platforms[0]["lights"])
	assert.Equal(t, "Sensors", saved.Platforms[1]["name"], "other entries are kept in place")
	first.stop()

	second := startBridge(t, dir, config.StorageDriverSQLite, 1)
	assert.ElementsMatch(t,
		[]string{"Night Mode", "Fan", "Kitchen", "Porch", "Garage", "Attic", "Front Door"},
		second.bridgedNames())
}

func TestRestart_AccessoryAddedThroughAPI(t *testing.T) {
	dir := writeConfig(t, testConfig)
	first := startBridge(t, dir, config.StorageDriverFile, 1)

	resp := postJSON(t, first.api.URL+"/api/config/accessories", map[string]any{
		"config": map[string]any{"accessory": "DummySwitch", "name": "Guest Mode"},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, first.api.URL+"/api/config/scenes", map[string]any{
		"config": map[string]any{"name": "Evening"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.NotContains(t, first.bridgedNames(), "Guest Mode", "new entries take effect after a restart")
	require.Len(t, first.savedConfig(t).Accessories, 3)
	first.stop()

	second := startBridge(t, dir, config.StorageDriverFile, 1)
	assert.Contains(t, second.bridgedNames(), "Guest Mode")
}
