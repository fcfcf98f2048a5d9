// Package cache persists the accessories of dynamic platforms across
// restarts. The whole set is stored as one ordered document and rewritten in
// full on every change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"homebridge/internal/storage"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// Key is the storage key of the cached accessory set.
const Key = "cachedAccessories"

// Characteristic is the persisted form of a characteristic.
type Characteristic struct {
	Type   string   `json:"type"`
	Name   string   `json:"displayName,omitempty"`
	Format string   `json:"format,omitempty"`
	Perms  []string `json:"perms,omitempty"`
	Value  any      `json:"value"`
}

// Service is the persisted form of a service.
type Service struct {
	Type            string           `json:"type"`
	DisplayName     string           `json:"displayName"`
	Subtype         string           `json:"subtype,omitempty"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Accessory is the persisted form of a platform accessory.
type Accessory struct {
	DisplayName string         `json:"displayName"`
	UUID        string         `json:"UUID"`
	Category    int            `json:"category"`
	Plugin      string         `json:"plugin"`
	Platform    string         `json:"platform"`
	Context     map[string]any `json:"context"`
	Services    []Service      `json:"services"`
}

// Store reads and writes the cached accessory set.
type Store struct {
	store  storage.Store
	logger *zap.Logger

	// saveMu serialises rewrites so the last snapshot always wins.
	saveMu sync.Mutex
}

// New creates a cache on top of a key-value store.
func New(store storage.Store, logger *zap.Logger) *Store {
	return &Store{
		store:  store,
		logger: logger.Named("cache"),
	}
}

// Load returns the cached accessories in their stored order. A missing cache
// is an empty set. Entries that cannot be restored are skipped.
func (s *Store) Load(ctx context.Context) ([]*plugin.PlatformAccessory, error) {
	data, err := s.store.Get(ctx, Key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read accessory cache: %w", err)
	}

	var entries []Accessory
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse accessory cache: %w", err)
	}

	out := make([]*plugin.PlatformAccessory, 0, len(entries))
	for _, entry := range entries {
		if entry.UUID == "" {
			s.logger.Warn("Skipping cached accessory without UUID", zap.String("name", entry.DisplayName))
			continue
		}
		out = append(out, Deserialize(entry))
	}

	s.logger.Info("Loaded cached accessories", zap.Int("count", len(out)))
	return out, nil
}

// Save rewrites the cache with accessories, in order.
func (s *Store) Save(ctx context.Context, accessories []*plugin.PlatformAccessory) error {
	entries := make([]Accessory, 0, len(accessories))
	for _, acc := range accessories {
		entries = append(entries, Serialize(acc))
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode accessory cache: %w", err)
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.store.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to write accessory cache: %w", err)
	}
	s.logger.Debug("Accessory cache written", zap.Int("count", len(entries)))
	return nil
}

// Serialize converts a platform accessory into its persisted form.
func Serialize(acc *plugin.PlatformAccessory) Accessory {
	out := Accessory{
		DisplayName: acc.DisplayName,
		UUID:        acc.UUID,
		Category:    int(acc.Category),
		Plugin:      acc.PluginName,
		Platform:    acc.PlatformName,
		Context:     acc.Context(),
	}

	for _, svc := range acc.Services() {
		s := Service{
			Type:        string(svc.Type),
			DisplayName: svc.DisplayName,
			Subtype:     svc.Subtype,
		}
		for _, c := range svc.Characteristics() {
			perms := make([]string, 0, len(c.Perms))
			for _, p := range c.Perms {
				perms = append(perms, string(p))
			}
			s.Characteristics = append(s.Characteristics, Characteristic{
				Type:   string(c.Type),
				Name:   c.Name,
				Format: string(c.Format),
				Perms:  perms,
				Value:  c.Value(),
			})
		}
		out.Services = append(out.Services, s)
	}
	return out
}

// Deserialize restores a platform accessory from its persisted form.
func Deserialize(in Accessory) *plugin.PlatformAccessory {
	category := hap.Category(in.Category)
	if category == 0 {
		category = hap.CategoryOther
	}
	acc := plugin.NewPlatformAccessory(in.DisplayName, in.UUID, category)
	acc.PluginName = in.Plugin
	acc.PlatformName = in.Platform
	acc.ReplaceContext(in.Context)

	for _, s := range in.Services {
		st := hap.ServiceType(hap.ShortType(s.Type))

		var svc *hap.Service
		if st == hap.ServiceAccessoryInformation {
			svc = acc.InformationService()
		} else {
			svc = hap.NewService(st, s.DisplayName, s.Subtype)
		}

		for _, c := range s.Characteristics {
			restored := svc.Characteristic(hap.CharacteristicType(c.Type))
			if c.Name != "" {
				restored.Name = c.Name
			}
			if c.Format != "" {
				restored.Format = hap.Format(c.Format)
			}
			if len(c.Perms) > 0 {
				perms := make([]hap.Perm, 0, len(c.Perms))
				for _, p := range c.Perms {
					perms = append(perms, hap.Perm(p))
				}
				restored.Perms = perms
			}
			restored.SetValue(c.Value)
		}

		if st != hap.ServiceAccessoryInformation {
			if _, err := acc.AddService(svc); err != nil {
				continue
			}
		}
	}
	return acc
}
