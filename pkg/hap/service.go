package hap

import (
	"fmt"
	"sync"
)

// ServiceDefinition is one entry of the service list a plugin accessory
// returns. It is either a typed *Service or a *LegacyService description.
type ServiceDefinition interface {
	isServiceDefinition()
}

// Service groups the characteristics of one function of an accessory.
type Service struct {
	Type        ServiceType
	DisplayName string
	Subtype     string

	mu              sync.RWMutex
	characteristics []*Characteristic
	listener        func(s *Service, c *Characteristic, oldValue, newValue any)
}

func (*Service) isServiceDefinition() {}

// NewService creates a service with the required characteristics of its type.
// The Name characteristic, when present, is initialised to displayName.
func NewService(t ServiceType, displayName, subtype string) *Service {
	t = ServiceType(ShortType(string(t)))
	s := &Service{
		Type:        t,
		DisplayName: displayName,
		Subtype:     subtype,
	}

	if tmpl, ok := serviceTemplates[t]; ok {
		if s.DisplayName == "" {
			s.DisplayName = tmpl.name
		}
		for _, ct := range tmpl.required {
			s.attach(NewCharacteristic(ct))
		}
	}
	if c, ok := s.LookupCharacteristic(CharacteristicName); ok && displayName != "" {
		c.SetValue(displayName)
	}
	return s
}

// AddCharacteristic adds c to the service. A service holds at most one
// characteristic of each type.
func (s *Service) AddCharacteristic(c *Characteristic) (*Characteristic, error) {
	if _, exists := s.LookupCharacteristic(c.Type); exists {
		return nil, fmt.Errorf("%w: %s already has %s", ErrDuplicateCharacteristic, s.DisplayName, c.Name)
	}
	s.attach(c)
	return c, nil
}

// Characteristic returns the characteristic of the given type, adding it if
// the service does not have one yet.
func (s *Service) Characteristic(t CharacteristicType) *Characteristic {
	if c, ok := s.LookupCharacteristic(t); ok {
		return c
	}
	c := NewCharacteristic(t)
	s.attach(c)
	return c
}

// LookupCharacteristic returns the characteristic of the given type if present.
func (s *Service) LookupCharacteristic(t CharacteristicType) (*Characteristic, bool) {
	t = CharacteristicType(ShortType(string(t)))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.characteristics {
		if c.Type == t {
			return c, true
		}
	}
	return nil, false
}

// Characteristics returns a snapshot of the service's characteristics.
func (s *Service) Characteristics() []*Characteristic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Characteristic, len(s.characteristics))
	copy(out, s.characteristics)
	return out
}

// ReplaceCharacteristicsFrom moves the characteristics of other into s. A
// characteristic of s with the same type is replaced; others are added.
func (s *Service) ReplaceCharacteristicsFrom(other *Service) {
	for _, c := range other.Characteristics() {
		s.mu.Lock()
		replaced := false
		for i, existing := range s.characteristics {
			if existing.Type == c.Type {
				existing.setListener(nil)
				s.characteristics[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.characteristics = append(s.characteristics, c)
		}
		s.mu.Unlock()
		c.setListener(s.characteristicChanged)
	}
}

func (s *Service) attach(c *Characteristic) {
	s.mu.Lock()
	s.characteristics = append(s.characteristics, c)
	s.mu.Unlock()
	c.setListener(s.characteristicChanged)
}

func (s *Service) characteristicChanged(c *Characteristic, oldValue, newValue any) {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener != nil {
		listener(s, c, oldValue, newValue)
	}
}

func (s *Service) setListener(fn func(s *Service, c *Characteristic, oldValue, newValue any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *Service) key() string {
	return string(s.Type) + "/" + s.Subtype
}
