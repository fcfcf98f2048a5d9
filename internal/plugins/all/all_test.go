package all

import (
	"testing"

	"homebridge/pkg/plugin"

	"github.com/stretchr/testify/assert"
)

func TestBundledModulesAreRegistered(t *testing.T) {
	var names []string
	for _, m := range plugin.List() {
		names = append(names, m.Name)
		assert.NotNil(t, m.Initializer, m.Name)
	}
	assert.Equal(t, []string{
		"homebridge-dummy",
		"homebridge-demo-platform",
		"homebridge-sensor-platform",
		"homebridge-tv",
		"homebridge-daylight",
		"homebridge-homeassistant",
	}, names)
}
