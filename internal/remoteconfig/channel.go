// Package remoteconfig lets configurable platforms rewrite their own entry in
// config.json. Requests reach a platform through the management API; the
// platform answers with a response and optionally a new configuration entry.
package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"homebridge/internal/config"
	"homebridge/pkg/plugin"

	"go.uber.org/zap"
)

// ErrUnknownPlatform is returned for requests to a platform that is not
// registered as configurable.
var ErrUnknownPlatform = errors.New("no configurable platform with that name")

// GuardFunc runs plugin code and reports whether it returned normally.
type GuardFunc func(where string, fn func()) bool

// Options configures a Channel.
type Options struct {
	Config *config.Config
	Loader *config.Loader
	Logger *zap.Logger
	Guard  GuardFunc
}

type registration struct {
	key      string
	platform plugin.ConfigurablePlatform
}

// Channel owns the configuration document once the bridge is running and
// serialises every rewrite of it.
type Channel struct {
	logger *zap.Logger
	loader *config.Loader
	guard  GuardFunc

	mu        sync.Mutex
	cfg       *config.Config
	platforms map[string]registration
}

// New creates a channel. The document is copied; the caller's value is not
// modified by later changes.
func New(opts Options) (*Channel, error) {
	cfg, err := opts.Config.Clone()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := opts.Guard
	if guard == nil {
		guard = func(_ string, fn func()) bool { fn(); return true }
	}
	return &Channel{
		logger:    logger.Named("remoteconfig"),
		loader:    opts.Loader,
		guard:     guard,
		cfg:       cfg,
		platforms: make(map[string]registration),
	}, nil
}

// Register makes p reachable under its fully qualified key ("plugin.Type")
// and under each alias that is not taken yet.
func (c *Channel) Register(key string, p plugin.ConfigurablePlatform, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg := registration{key: key, platform: p}
	for _, name := range append([]string{key}, aliases...) {
		if name == "" {
			continue
		}
		if _, exists := c.platforms[name]; exists {
			continue
		}
		c.platforms[name] = reg
	}
	c.logger.Debug("Configurable platform registered", zap.String("platform", key))
}

// Platforms returns the fully qualified keys of the registered platforms.
func (c *Channel) Platforms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, reg := range c.platforms {
		if !seen[reg.key] {
			seen[reg.key] = true
			out = append(out, reg.key)
		}
	}
	sort.Strings(out)
	return out
}

// Request passes request to the named platform and waits for its response.
// When the response carries a configuration entry it is applied before
// Request returns. The platform may respond from any goroutine; only its
// first response counts.
func (c *Channel) Request(ctx context.Context, name string, request map[string]any) (map[string]any, error) {
	c.mu.Lock()
	reg, ok := c.platforms[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}

	type result struct {
		response map[string]any
		err      error
	}
	results := make(chan result, 1)
	var once sync.Once
	respond := func(resp plugin.ConfigurationResponse) {
		once.Do(func() {
			var err error
			if resp.Kind != "" && resp.Config != nil {
				err = c.Apply(resp.Kind, reg.key, resp.Replace, resp.Config)
				if err != nil {
					c.logger.Error("Failed to apply configuration from platform",
						zap.String("platform", reg.key),
						zap.Error(err))
				}
			}
			results <- result{response: resp.Response, err: err}
		})
	}

	if !c.guard("configuration request of "+reg.key, func() {
		reg.platform.HandleConfigurationRequest(request, respond)
	}) {
		return nil, fmt.Errorf("platform %s failed to handle the configuration request", reg.key)
	}

	select {
	case r := <-results:
		return r.response, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Apply writes body into the entries of kind and saves the document.
//
// Without replace the entry is appended. With replace the first entry whose
// identifier equals name is overwritten; failing that, the first entry whose
// identifier equals the part of name after its first "."; failing both, the
// entry is appended.
func (c *Channel) Apply(kind, name string, replace bool, body plugin.Config) error {
	idKey, err := identifierKey(kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.cfg.Entries(kind)
	if err != nil {
		return err
	}
	updated := make([]plugin.Config, len(entries), len(entries)+1)
	copy(updated, entries)

	idx := -1
	if replace {
		idx = indexOf(updated, idKey, name)
		if idx < 0 {
			if _, suffix, found := strings.Cut(name, "."); found {
				idx = indexOf(updated, idKey, suffix)
			}
		}
	}

	if idx >= 0 {
		updated[idx] = body.Clone()
	} else {
		updated = append(updated, body.Clone())
	}

	if err := c.cfg.SetEntries(kind, updated); err != nil {
		return err
	}
	if c.loader == nil {
		return nil
	}
	if err := c.loader.Save(c.cfg); err != nil {
		return err
	}

	c.logger.Info("Configuration updated",
		zap.String("kind", kind),
		zap.String("name", name),
		zap.Bool("replaced", idx >= 0))
	return nil
}

// Config returns a copy of the current document.
func (c *Channel) Config() (*config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

func identifierKey(kind string) (string, error) {
	switch kind {
	case config.KindAccessories:
		return "accessory", nil
	case config.KindPlatforms:
		return "platform", nil
	default:
		return "", fmt.Errorf("%w: %q", config.ErrUnknownKind, kind)
	}
}

func indexOf(entries []plugin.Config, idKey, identifier string) int {
	for i, e := range entries {
		if e.String(idKey) == identifier {
			return i
		}
	}
	return -1
}
