package hap

import (
	"fmt"
	"sync"
)

// Default values of the built-in information service.
const (
	DefaultManufacturer     = "Default-Manufacturer"
	DefaultModel            = "Default-Model"
	DefaultSerialNumber     = "Default-SerialNumber"
	DefaultFirmwareRevision = "1.0"
)

// Controller bundles services that are configured onto an accessory as a
// unit (for example a camera stream or a remote).
type Controller interface {
	ControllerID() string
	Services() []*Service
}

// CharacteristicChange describes a value change observed on an accessory.
type CharacteristicChange struct {
	Accessory      *Accessory
	Service        *Service
	Characteristic *Characteristic
	OldValue       any
	NewValue       any
}

// Accessory is a published or bridged accessory.
//
// Every accessory owns exactly one AccessoryInformation service, created by
// NewAccessory. A bridge is an accessory with bridged accessories attached.
type Accessory struct {
	DisplayName string
	UUID        string
	Category    Category

	mu             sync.RWMutex
	services       []*Service
	controllers    []Controller
	bridged        []*Accessory
	changeHandlers []func(CharacteristicChange)
	observers      map[any]bool
	identify       func() error
}

// NewAccessory creates an accessory with its information service.
func NewAccessory(displayName, uuid string) *Accessory {
	a := &Accessory{
		DisplayName: displayName,
		UUID:        uuid,
		Category:    CategoryOther,
	}

	info := NewService(ServiceAccessoryInformation, displayName, "")
	info.Characteristic(CharacteristicManufacturer).SetValue(DefaultManufacturer)
	info.Characteristic(CharacteristicModel).SetValue(DefaultModel)
	info.Characteristic(CharacteristicSerialNumber).SetValue(DefaultSerialNumber)
	info.Characteristic(CharacteristicFirmwareRevision).SetValue(DefaultFirmwareRevision)
	a.attach(info)
	return a
}

// InformationService returns the built-in AccessoryInformation service.
func (a *Accessory) InformationService() *Service {
	return a.Service(ServiceAccessoryInformation)
}

// AddService adds s to the accessory. Services are unique per type and
// subtype; a second AccessoryInformation service is always rejected.
func (a *Accessory) AddService(s *Service) (*Service, error) {
	a.mu.RLock()
	for _, existing := range a.services {
		if existing == s || existing.key() == s.key() || (s.Type == ServiceAccessoryInformation && existing.Type == ServiceAccessoryInformation) {
			a.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s (%s) on %s", ErrDuplicateService, s.DisplayName, s.Type, a.DisplayName)
		}
	}
	a.mu.RUnlock()

	a.attach(s)
	return s, nil
}

// RemoveService detaches s from the accessory.
func (a *Accessory) RemoveService(s *Service) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.services {
		if existing == s {
			a.services = append(a.services[:i], a.services[i+1:]...)
			s.setListener(nil)
			return true
		}
	}
	return false
}

// Service returns the first service of the given type.
func (a *Accessory) Service(t ServiceType) *Service {
	t = ServiceType(ShortType(string(t)))
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.services {
		if s.Type == t {
			return s
		}
	}
	return nil
}

// ServiceBySubtype returns the service with the given type and subtype.
func (a *Accessory) ServiceBySubtype(t ServiceType, subtype string) *Service {
	t = ServiceType(ShortType(string(t)))
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.services {
		if s.Type == t && s.Subtype == subtype {
			return s
		}
	}
	return nil
}

// Services returns a snapshot of the accessory's services.
func (a *Accessory) Services() []*Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Service, len(a.services))
	copy(out, a.services)
	return out
}

// ConfigureController adds the controller and the services it brings along.
func (a *Accessory) ConfigureController(c Controller) error {
	a.mu.Lock()
	for _, existing := range a.controllers {
		if existing.ControllerID() == c.ControllerID() {
			a.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateController, c.ControllerID())
		}
	}
	a.controllers = append(a.controllers, c)
	a.mu.Unlock()

	for _, s := range c.Services() {
		if s == nil {
			continue
		}
		if _, err := a.AddService(s); err != nil {
			return fmt.Errorf("configure controller %s: %w", c.ControllerID(), err)
		}
	}
	return nil
}

// Controllers returns the configured controllers.
func (a *Accessory) Controllers() []Controller {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Controller, len(a.controllers))
	copy(out, a.controllers)
	return out
}

// OnCharacteristicChange registers fn for every value change on any service of
// the accessory.
func (a *Accessory) OnCharacteristicChange(fn func(CharacteristicChange)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changeHandlers = append(a.changeHandlers, fn)
}

// Observe registers fn like OnCharacteristicChange unless owner already
// observes the accessory. It reports whether fn was registered.
func (a *Accessory) Observe(owner any, fn func(CharacteristicChange)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.observers[owner] {
		return false
	}
	if a.observers == nil {
		a.observers = make(map[any]bool)
	}
	a.observers[owner] = true
	a.changeHandlers = append(a.changeHandlers, fn)
	return true
}

// OnIdentify registers the identify routine.
func (a *Accessory) OnIdentify(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identify = fn
}

// Identify runs the identify routine, if any.
func (a *Accessory) Identify() error {
	a.mu.RLock()
	fn := a.identify
	a.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// AddBridgedAccessory attaches b behind this accessory. Bridged accessories
// are unique by UUID.
func (a *Accessory) AddBridgedAccessory(b *Accessory) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.UUID == a.UUID {
		return fmt.Errorf("%w: %s cannot bridge itself", ErrDuplicateAccessory, a.DisplayName)
	}
	for _, existing := range a.bridged {
		if existing.UUID == b.UUID {
			return fmt.Errorf("%w: %s (%s)", ErrDuplicateAccessory, b.DisplayName, b.UUID)
		}
	}
	a.bridged = append(a.bridged, b)
	return nil
}

// RemoveBridgedAccessory detaches the bridged accessory with the given UUID.
func (a *Accessory) RemoveBridgedAccessory(uuid string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.bridged {
		if existing.UUID == uuid {
			a.bridged = append(a.bridged[:i], a.bridged[i+1:]...)
			return true
		}
	}
	return false
}

// BridgedAccessories returns a snapshot of the bridged accessories.
func (a *Accessory) BridgedAccessories() []*Accessory {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Accessory, len(a.bridged))
	copy(out, a.bridged)
	return out
}

// BridgedAccessory returns the bridged accessory with the given UUID.
func (a *Accessory) BridgedAccessory(uuid string) *Accessory {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, b := range a.bridged {
		if b.UUID == uuid {
			return b
		}
	}
	return nil
}

func (a *Accessory) attach(s *Service) {
	a.mu.Lock()
	a.services = append(a.services, s)
	a.mu.Unlock()
	s.setListener(a.serviceChanged)
}

func (a *Accessory) serviceChanged(s *Service, c *Characteristic, oldValue, newValue any) {
	a.mu.RLock()
	handlers := make([]func(CharacteristicChange), len(a.changeHandlers))
	copy(handlers, a.changeHandlers)
	a.mu.RUnlock()

	change := CharacteristicChange{
		Accessory:      a,
		Service:        s,
		Characteristic: c,
		OldValue:       oldValue,
		NewValue:       newValue,
	}
	for _, h := range handlers {
		h(change)
	}
}
