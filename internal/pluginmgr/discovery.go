// Package pluginmgr finds plugin modules, loads them, and creates the
// accessories and platforms the configuration asks for.
package pluginmgr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"

	"homebridge/pkg/plugin"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest a plugin directory must contain.
const ManifestFile = "plugin.yaml"

var (
	// ErrNoInitializer is returned when a shared library does not export a
	// usable Initializer symbol.
	ErrNoInitializer = errors.New("plugin does not export an initializer")

	// ErrNoLibrary is returned for manifests that name no shared library.
	ErrNoLibrary = errors.New("plugin manifest names no library")
)

// Manifest describes a plugin installed in a search path.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	// Library is the shared object exporting Initializer, relative to the
	// manifest's directory.
	Library string `yaml:"library"`
}

// Descriptor is a plugin module known to the host.
type Descriptor struct {
	Name        string
	Version     string
	Description string
	// SearchPath is the directory the plugin was found in. Empty for
	// compiled-in modules.
	SearchPath string
	Builtin    bool

	Initializer plugin.Initializer
	// LoadError is set when the plugin failed to load.
	LoadError error

	manifest *Manifest
}

// Loaded reports whether the plugin loaded without error.
func (d *Descriptor) Loaded() bool {
	return d.LoadError == nil
}

// Discover lists compiled-in modules first, in load order, then the plugins
// found in searchPaths. Later plugins with an already known name are skipped.
func Discover(registry *plugin.Registry, searchPaths []string, logger *zap.Logger) []*Descriptor {
	logger = logger.Named("discovery")

	var out []*Descriptor
	seen := make(map[string]bool)

	for _, info := range registry.Shadowed() {
		kept := registry.Get(info.Name)
		logger.Info("Compiled-in module shadowed by another of the same name",
			zap.String("plugin", info.Name),
			zap.Int("priority", info.Priority),
			zap.Int("kept_priority", kept.Priority))
	}

	for _, info := range registry.List() {
		seen[info.Name] = true
		out = append(out, &Descriptor{
			Name:        info.Name,
			Version:     info.Version,
			Description: info.Description,
			Builtin:     true,
			Initializer: info.Initializer,
		})
	}

	for _, dir := range searchPaths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("Failed to read plugin search path", zap.String("path", dir), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, entry.Name())
			manifest, err := readManifest(filepath.Join(pluginDir, ManifestFile))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				logger.Warn("Ignoring plugin with invalid manifest",
					zap.String("path", pluginDir),
					zap.Error(err))
				continue
			}
			if manifest.Name == "" {
				manifest.Name = entry.Name()
			}
			if seen[manifest.Name] {
				logger.Warn("Skipping duplicate plugin",
					zap.String("plugin", manifest.Name),
					zap.String("path", pluginDir))
				continue
			}
			seen[manifest.Name] = true
			out = append(out, &Descriptor{
				Name:        manifest.Name,
				Version:     manifest.Version,
				Description: manifest.Description,
				SearchPath:  pluginDir,
				manifest:    manifest,
			})
		}
	}

	logger.Debug("Plugins discovered", zap.Int("count", len(out)))
	return out
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &m, nil
}

// resolveInitializer returns the initializer of d, opening its shared
// library on first use.
func (d *Descriptor) resolveInitializer() (plugin.Initializer, error) {
	if d.Initializer != nil {
		return d.Initializer, nil
	}
	if d.manifest == nil || d.manifest.Library == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoLibrary, d.Name)
	}

	lib := d.manifest.Library
	if !filepath.IsAbs(lib) {
		lib = filepath.Join(d.SearchPath, lib)
	}
	p, err := goplugin.Open(lib)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", lib, err)
	}
	sym, err := p.Lookup("Initializer")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInitializer, d.Name)
	}

	var initializer plugin.Initializer
	switch fn := sym.(type) {
	case func(plugin.API) error:
		initializer = fn
	case *func(plugin.API) error:
		initializer = *fn
	case *plugin.Initializer:
		initializer = *fn
	default:
		return nil, fmt.Errorf("%w: %s exports %T", ErrNoInitializer, d.Name, sym)
	}
	if initializer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInitializer, d.Name)
	}
	d.Initializer = initializer
	return initializer, nil
}
