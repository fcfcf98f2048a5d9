package hap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLegacyAccessory(t *testing.T) {
	var updated any
	services := []ServiceDefinition{
		&LegacyService{
			SType: "0000003E-0000-1000-8000-0026BB765291",
			Characteristics: []LegacyCharacteristic{
				{CType: string(CharacteristicManufacturer), InitialValue: "Acme"},
			},
		},
		&LegacyService{
			SType: string(ServiceOutlet),
			Characteristics: []LegacyCharacteristic{
				{CType: string(CharacteristicOn), InitialValue: true, OnUpdate: func(v any) { updated = v }},
			},
		},
	}

	acc, err := LoadLegacyAccessory("Old Plug", services)
	require.NoError(t, err)

	assert.Equal(t, GenerateUUID("Old Plug"), acc.UUID)
	assert.Equal(t, "Acme", acc.InformationService().Characteristic(CharacteristicManufacturer).Value())

	outlet := acc.Service(ServiceOutlet)
	require.NotNil(t, outlet)
	on := outlet.Characteristic(CharacteristicOn)
	assert.Equal(t, true, on.Value())

	require.NoError(t, on.Write(false))
	assert.Equal(t, false, updated)
}

func TestLoadLegacyAccessory_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		services []ServiceDefinition
	}{
		{"typed service mixed in", []ServiceDefinition{&LegacyService{SType: "49"}, NewService(ServiceSwitch, "x", "")}},
		{"missing sType", []ServiceDefinition{&LegacyService{}}},
		{"missing cType", []ServiceDefinition{&LegacyService{SType: "49", Characteristics: []LegacyCharacteristic{{}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadLegacyAccessory("Broken", tt.services)
			assert.True(t, errors.Is(err, ErrInvalidLegacyService))
		})
	}
}
