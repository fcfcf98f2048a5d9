package hap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "Homebridge CE30", instanceName("Homebridge", "cc:22:3d:e3:ce:30"))
}

func TestTXTRecords(t *testing.T) {
	acc := NewAccessory("Homebridge", GenerateUUID("bridge"))
	info := PublishInfo{Username: "cc:22:3d:e3:ce:30", Category: CategoryBridge, SetupID: "ABCD"}

	records := txtRecords(acc, info)
	assert.Contains(t, records, "id=CC:22:3D:E3:CE:30")
	assert.Contains(t, records, "md=Homebridge")
	assert.Contains(t, records, "ci=2")
	assert.Contains(t, records, "sh="+SetupHash("ABCD", "CC:22:3D:E3:CE:30"))

	info.SetupID = ""
	for _, r := range txtRecords(acc, info) {
		assert.NotContains(t, r, "sh=")
	}
}

func TestInterfaces_Unknown(t *testing.T) {
	assert.Nil(t, interfaces(""))
	assert.Nil(t, interfaces("does-not-exist0"))
}
