// Package accessory turns the accessories plugins create into protocol
// accessories ready to be bridged.
package accessory

import (
	"errors"
	"fmt"
	"reflect"

	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// ErrMixedServiceShapes is returned when a plugin returns typed services and
// legacy service descriptions in the same list.
var ErrMixedServiceShapes = errors.New("accessory mixes typed and legacy services")

// Characteristics whose changes are not reported as accessory changes.
var housekeeping = map[string]bool{
	"Last Updated":  true,
	"Serial Number": true,
	"Manufacturer":  true,
	"Identify":      true,
	"Model":         true,
}

// ChangeFunc receives value changes of built accessories.
type ChangeFunc func(hap.CharacteristicChange)

// Factory builds protocol accessories from plugin accessories.
type Factory struct {
	logger   *zap.Logger
	onChange ChangeFunc
}

// NewFactory creates a factory. onChange may be nil.
func NewFactory(logger *zap.Logger, onChange ChangeFunc) *Factory {
	return &Factory{
		logger:   logger.Named("accessory"),
		onChange: onChange,
	}
}

// UUIDBase returns the string the stable ID of instance is derived from.
func UUIDBase(instance plugin.AccessoryPlugin, displayName string) string {
	if plugin.DescribeAccessory(instance).UUIDBase {
		if base := instance.(plugin.UUIDBaseProvider).UUIDBase(); base != "" {
			return base
		}
	}
	return displayName
}

// Build converts instance into a protocol accessory. It returns nil without
// an error when the instance exposes neither services nor controllers.
//
// typeKey is the fully qualified accessory type ("plugin.Type"); the stable
// ID of typed accessories is derived from typeKey and uuidBase.
func (f *Factory) Build(instance plugin.AccessoryPlugin, displayName, typeKey, uuidBase string) (*hap.Accessory, error) {
	caps := plugin.DescribeAccessory(instance)
	services := nonNil(instance.Services())

	var controllers []hap.Controller
	if caps.Controllers {
		for _, ctrl := range instance.(plugin.ControllerCapable).Controllers() {
			if !isNil(ctrl) {
				controllers = append(controllers, ctrl)
			}
		}
	}

	if len(services) == 0 && len(controllers) == 0 {
		return nil, nil
	}

	if len(services) > 0 {
		if _, legacy := services[0].(*hap.LegacyService); legacy {
			for _, s := range services {
				if _, ok := s.(*hap.LegacyService); !ok {
					return nil, fmt.Errorf("%w: %s", ErrMixedServiceShapes, displayName)
				}
			}
			return hap.LoadLegacyAccessory(displayName, services)
		}
	}

	typed := make([]*hap.Service, 0, len(services))
	for _, s := range services {
		svc, ok := s.(*hap.Service)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMixedServiceShapes, displayName)
		}
		typed = append(typed, svc)
	}

	if uuidBase == "" {
		uuidBase = displayName
	}
	acc := hap.NewAccessory(displayName, hap.GenerateUUID(typeKey+":"+uuidBase))
	f.Watch(acc)

	if caps.Identify {
		acc.OnIdentify(instance.(plugin.IdentifyCapable).Identify)
	}

	for _, svc := range typed {
		if svc.Type == hap.ServiceAccessoryInformation {
			acc.InformationService().ReplaceCharacteristicsFrom(svc)
			continue
		}
		if _, err := acc.AddService(svc); err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", displayName, err)
		}
	}

	for _, ctrl := range controllers {
		if err := acc.ConfigureController(ctrl); err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", displayName, err)
		}
	}

	return acc, nil
}

// Watch reports value changes of acc, except house-keeping characteristics
// and writes that do not change the value. Watching an accessory again is a
// no-op.
func (f *Factory) Watch(acc *hap.Accessory) {
	acc.Observe(f, func(change hap.CharacteristicChange) {
		if hap.ValuesEqual(change.OldValue, change.NewValue) {
			return
		}
		if housekeeping[change.Characteristic.Name] {
			return
		}
		f.logger.Debug("Accessory changed",
			zap.String("accessory", change.Accessory.DisplayName),
			zap.String("service", change.Service.DisplayName),
			zap.String("characteristic", change.Characteristic.Name),
			zap.Any("value", change.NewValue))
		if f.onChange != nil {
			f.onChange(change)
		}
	})
}

func nonNil(services []hap.ServiceDefinition) []hap.ServiceDefinition {
	out := make([]hap.ServiceDefinition, 0, len(services))
	for _, s := range services {
		if !isNil(s) {
			out = append(out, s)
		}
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
