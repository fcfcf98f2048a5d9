package hap

import (
	"fmt"
)

// LegacyService is the plain service description older plugins return
// instead of typed services.
type LegacyService struct {
	SType           string                 `json:"sType"`
	Characteristics []LegacyCharacteristic `json:"characteristics"`
}

func (*LegacyService) isServiceDefinition() {}

// LegacyCharacteristic describes one characteristic of a LegacyService.
type LegacyCharacteristic struct {
	CType        string   `json:"cType"`
	InitialValue any      `json:"initialValue,omitempty"`
	Description  string   `json:"manfDescription,omitempty"`
	Format       string   `json:"format,omitempty"`
	Perms        []string `json:"perms,omitempty"`

	// OnUpdate receives values written by a controller.
	OnUpdate func(value any) `json:"-"`
}

// LoadLegacyAccessory builds an accessory from legacy service descriptions.
// The UUID is derived from the display name. Characteristics of a legacy
// AccessoryInformation entry overwrite those of the built-in information
// service.
func LoadLegacyAccessory(displayName string, services []ServiceDefinition) (*Accessory, error) {
	acc := NewAccessory(displayName, GenerateUUID(displayName))

	for i, def := range services {
		legacy, ok := def.(*LegacyService)
		if !ok || legacy == nil {
			return nil, fmt.Errorf("%w: entry %d of %s is %T", ErrInvalidLegacyService, i, displayName, def)
		}
		if legacy.SType == "" {
			return nil, fmt.Errorf("%w: entry %d of %s has no sType", ErrInvalidLegacyService, i, displayName)
		}

		st := ServiceType(ShortType(legacy.SType))
		var svc *Service
		if st == ServiceAccessoryInformation {
			svc = acc.InformationService()
		} else {
			svc = NewService(st, displayName, fmt.Sprintf("legacy-%d", i))
		}

		for _, lc := range legacy.Characteristics {
			if lc.CType == "" {
				return nil, fmt.Errorf("%w: characteristic without cType in %s", ErrInvalidLegacyService, legacy.SType)
			}
			c := svc.Characteristic(CharacteristicType(lc.CType))
			applyLegacyCharacteristic(c, lc)
		}

		if st != ServiceAccessoryInformation {
			if _, err := acc.AddService(svc); err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

func applyLegacyCharacteristic(c *Characteristic, lc LegacyCharacteristic) {
	if lc.Description != "" && c.Name == string(c.Type) {
		c.Name = lc.Description
	}
	if lc.Format != "" {
		c.Format = Format(lc.Format)
	}
	if len(lc.Perms) > 0 {
		perms := make([]Perm, 0, len(lc.Perms))
		for _, p := range lc.Perms {
			perms = append(perms, Perm(p))
		}
		c.Perms = perms
	}
	if lc.InitialValue != nil {
		c.SetValue(lc.InitialValue)
	}
	if lc.OnUpdate != nil {
		update := lc.OnUpdate
		c.OnSet(func(value any) error {
			update(value)
			return nil
		})
	}
}
