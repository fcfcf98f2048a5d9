package remoteconfig

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"homebridge/internal/config"
	"homebridge/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChannel(t *testing.T, platforms ...plugin.Config) (*Channel, *config.Loader) {
	t.Helper()
	loader := config.NewLoader(filepath.Join(t.TempDir(), config.FileName), zap.NewNop())
	cfg := config.Default()
	cfg.Platforms = platforms
	ch, err := New(Options{Config: cfg, Loader: loader, Logger: zap.NewNop()})
	require.NoError(t, err)
	return ch, loader
}

func platformNames(t *testing.T, loader *config.Loader) []string {
	t.Helper()
	cfg := loader.Load()
	var out []string
	for _, p := range cfg.Platforms {
		out = append(out, p.PlatformType()+"/"+p.Name())
	}
	return out
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		replace bool
		body    plugin.Config
		want    []string
	}{
		{
			name:    "append without replace",
			target:  "homebridge-demo.Demo",
			replace: false,
			body:    plugin.Config{"platform": "Demo", "name": "new"},
			want:    []string{"Demo/old", "Other/bare", "homebridge-other.Other/other", "Demo/new"},
		},
		{
			name:    "exact identifier wins over suffix",
			target:  "homebridge-other.Other",
			replace: true,
			body:    plugin.Config{"platform": "homebridge-other.Other", "name": "new"},
			want:    []string{"Demo/old", "Other/bare", "homebridge-other.Other/new"},
		},
		{
			name:    "replace by suffix after the first dot",
			target:  "homebridge-demo.Demo",
			replace: true,
			body:    plugin.Config{"platform": "Demo", "name": "new"},
			want:    []string{"Demo/new", "Other/bare", "homebridge-other.Other/other"},
		},
		{
			name:    "replace falls back to append",
			target:  "homebridge-none.None",
			replace: true,
			body:    plugin.Config{"platform": "None", "name": "new"},
			want:    []string{"Demo/old", "Other/bare", "homebridge-other.Other/other", "None/new"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, loader := newChannel(t,
				plugin.Config{"platform": "Demo", "name": "old"},
				plugin.Config{"platform": "Other", "name": "bare"},
				plugin.Config{"platform": "homebridge-other.Other", "name": "other"},
			)

			require.NoError(t, ch.Apply(config.KindPlatforms, tt.target, tt.replace, tt.body))
			assert.Equal(t, tt.want, platformNames(t, loader))
		})
	}
}

func TestApply_WritesIndentedDocument(t *testing.T) {
	ch, loader := newChannel(t)
	require.NoError(t, ch.Apply(config.KindAccessories, "Switch", false,
		plugin.Config{"accessory": "Switch", "name": "Lamp"}))

	data, err := os.ReadFile(loader.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"accessories\": [")
	assert.True(t, strings.HasSuffix(string(data), "}\n"))

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "bridge")
}

func TestApply_UnknownKind(t *testing.T) {
	ch, _ := newChannel(t)
	err := ch.Apply("widgets", "x", false, plugin.Config{})
	assert.ErrorIs(t, err, config.ErrUnknownKind)
}

func TestApply_LastWriterWins(t *testing.T) {
	ch, loader := newChannel(t, plugin.Config{"platform": "Demo", "name": "v0"})

	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, ch.Apply(config.KindPlatforms, "homebridge-demo.Demo", true,
			plugin.Config{"platform": "Demo", "name": v}))
	}
	assert.Equal(t, []string{"Demo/v3"}, platformNames(t, loader))
}

type configurable struct {
	async  bool
	config plugin.Config
}

func (c *configurable) HandleConfigurationRequest(request map[string]any, respond plugin.ConfigurationResponder) {
	resp := plugin.ConfigurationResponse{
		Response: map[string]any{"echo": request["value"]},
		Kind:     config.KindPlatforms,
		Replace:  true,
		Config:   c.config,
	}
	if c.async {
		go func() {
			respond(resp)
			respond(plugin.ConfigurationResponse{Response: map[string]any{"echo": "ignored"}})
		}()
		return
	}
	respond(resp)
}

func TestRequest(t *testing.T) {
	for _, async := range []bool{false, true} {
		ch, loader := newChannel(t, plugin.Config{"platform": "Demo", "name": "before"})
		ch.Register("homebridge-demo.Demo", &configurable{
			async:  async,
			config: plugin.Config{"platform": "Demo", "name": "after"},
		}, "Demo")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := ch.Request(ctx, "Demo", map[string]any{"value": "hi"})
		cancel()

		require.NoError(t, err)
		assert.Equal(t, "hi", resp["echo"])
		assert.Equal(t, []string{"Demo/after"}, platformNames(t, loader))
	}
}

func TestRequest_UnknownPlatform(t *testing.T) {
	ch, _ := newChannel(t)
	_, err := ch.Request(context.Background(), "Nope", nil)
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

type silent struct{}

func (silent) HandleConfigurationRequest(map[string]any, plugin.ConfigurationResponder) {}

func TestRequest_ContextCancelled(t *testing.T) {
	ch, _ := newChannel(t)
	ch.Register("p.Silent", silent{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.Request(ctx, "p.Silent", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"p.Silent"}, ch.Platforms())
}
