package hap

import (
	"fmt"
	"reflect"
	"sync"
)

// Characteristic is a single typed value of a service.
//
// Plugins update the value with SetValue. Writes coming from a controller go
// through Write, which runs the OnSet handler first and only stores the value
// when the handler accepts it.
type Characteristic struct {
	Type   CharacteristicType
	Name   string
	Format Format
	Perms  []Perm

	mu       sync.RWMutex
	value    any
	onSet    func(value any) error
	onGet    func() (any, error)
	listener func(c *Characteristic, oldValue, newValue any)
}

// NewCharacteristic creates a characteristic of the given type. Known types
// get their display name, format, permissions and initial value from the
// built-in table; unknown types become notifying string characteristics.
func NewCharacteristic(t CharacteristicType) *Characteristic {
	t = CharacteristicType(ShortType(string(t)))
	tmpl, ok := characteristicTemplates[t]
	if !ok {
		tmpl = characteristicTemplate{name: string(t), format: FormatString, perms: notify}
	}
	perms := make([]Perm, len(tmpl.perms))
	copy(perms, tmpl.perms)

	return &Characteristic{
		Type:   t,
		Name:   tmpl.name,
		Format: tmpl.format,
		Perms:  perms,
		value:  tmpl.value,
	}
}

// Value returns the cached value.
func (c *Characteristic) Value() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// SetValue stores a new value and notifies the owning service. It returns the
// characteristic so calls can be chained.
func (c *Characteristic) SetValue(value any) *Characteristic {
	c.mu.Lock()
	old := c.value
	c.value = value
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(c, old, value)
	}
	return c
}

// OnSet registers the handler invoked for controller writes.
func (c *Characteristic) OnSet(fn func(value any) error) *Characteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSet = fn
	return c
}

// OnGet registers the handler invoked for controller reads.
func (c *Characteristic) OnGet(fn func() (any, error)) *Characteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGet = fn
	return c
}

// Write applies a value written by a controller.
func (c *Characteristic) Write(value any) error {
	if !c.hasPerm(PermPairedWrite) {
		return fmt.Errorf("%w: %s", ErrNotWritable, c.Name)
	}

	c.mu.RLock()
	handler := c.onSet
	c.mu.RUnlock()

	if handler != nil {
		if err := handler(value); err != nil {
			return fmt.Errorf("write %s: %w", c.Name, err)
		}
	}
	c.SetValue(value)
	return nil
}

// Read returns the current value, consulting the OnGet handler when present.
func (c *Characteristic) Read() (any, error) {
	c.mu.RLock()
	handler := c.onGet
	c.mu.RUnlock()

	if handler == nil {
		return c.Value(), nil
	}
	value, err := handler()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.Name, err)
	}

	c.mu.Lock()
	c.value = value
	c.mu.Unlock()
	return value, nil
}

func (c *Characteristic) hasPerm(p Perm) bool {
	for _, perm := range c.Perms {
		if perm == p {
			return true
		}
	}
	return false
}

func (c *Characteristic) setListener(fn func(c *Characteristic, oldValue, newValue any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = fn
}

// ValuesEqual reports whether two characteristic values are equal. Values
// that are not comparable with == (slices, maps) are compared deeply.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
