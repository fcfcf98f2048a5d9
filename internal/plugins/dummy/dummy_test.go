package dummy

import (
	"testing"
	"time"

	"homebridge/internal/clock"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSwitch(t *testing.T, cfg plugin.Config) (*Switch, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sw, err := NewSwitch(plugin.NewContext(zap.NewNop(), cfg, nil), clk)
	require.NoError(t, err)
	return sw, clk
}

func write(t *testing.T, sw *Switch, on bool) {
	t.Helper()
	svc := sw.Services()[0].(*hap.Service)
	require.NoError(t, svc.Characteristic(hap.CharacteristicOn).Write(on))
}

func TestSwitch(t *testing.T) {
	tests := []struct {
		name      string
		cfg       plugin.Config
		write     bool
		wantAfter bool
		wantTimer bool
	}{
		{
			name:      "resets after the default delay",
			cfg:       plugin.Config{"name": "Trigger"},
			write:     true,
			wantAfter: false,
			wantTimer: true,
		},
		{
			name:      "stateful keeps its value",
			cfg:       plugin.Config{"name": "Mode", "stateful": true},
			write:     true,
			wantAfter: true,
		},
		{
			name:      "reverse resets to on",
			cfg:       plugin.Config{"name": "Reverse", "reverse": true},
			write:     false,
			wantAfter: true,
			wantTimer: true,
		},
		{
			name:      "writing the resting position schedules nothing",
			cfg:       plugin.Config{"name": "Idle"},
			write:     false,
			wantAfter: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw, clk := newSwitch(t, tt.cfg)
			assert.Equal(t, tt.cfg["reverse"] == true, sw.On(), "starts in the resting position")

			write(t, sw, tt.write)
			assert.Equal(t, tt.write, sw.On())
			if tt.wantTimer {
				assert.Equal(t, 1, clk.Pending())
			} else {
				assert.Zero(t, clk.Pending())
			}

			clk.Advance(DefaultResetAfter)
			assert.Equal(t, tt.wantAfter, sw.On())
		})
	}
}

func TestSwitch_ResetAfter(t *testing.T) {
	sw, clk := newSwitch(t, plugin.Config{"name": "Quick", "resetAfter": "250ms"})

	write(t, sw, true)
	clk.Advance(200 * time.Millisecond)
	assert.True(t, sw.On())

	write(t, sw, true)
	clk.Advance(200 * time.Millisecond)
	assert.True(t, sw.On(), "a second write restarts the delay")
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(50 * time.Millisecond)
	assert.False(t, sw.On())
}

func TestSwitch_InvalidConfig(t *testing.T) {
	clk := clock.NewMock(time.Now())
	_, err := NewSwitch(plugin.NewContext(zap.NewNop(), plugin.Config{"name": "Bad", "resetAfter": "soon"}, nil), clk)
	assert.Error(t, err)

	_, err = NewSwitch(plugin.NewContext(zap.NewNop(), plugin.Config{"name": "Bad", "stateful": "yes"}, nil), clk)
	assert.Error(t, err)
}

func TestSwitch_RejectsNonBool(t *testing.T) {
	sw, _ := newSwitch(t, plugin.Config{"name": "Strict"})
	svc := sw.Services()[0].(*hap.Service)

	err := svc.Characteristic(hap.CharacteristicOn).Write("on")
	assert.Error(t, err)
	assert.False(t, sw.On())
}

func TestOutlet_LegacyServices(t *testing.T) {
	outlet := NewOutlet(plugin.NewContext(zap.NewNop(), plugin.Config{"name": "Heater"}, nil))

	acc, err := hap.LoadLegacyAccessory(outlet.Name(), outlet.Services())
	require.NoError(t, err)

	info := acc.InformationService()
	assert.Equal(t, "Dummy Outlet", info.Characteristic(hap.CharacteristicModel).Value())

	svc := acc.Service(hap.ServiceOutlet)
	require.NotNil(t, svc)
	assert.Equal(t, true, svc.Characteristic(hap.CharacteristicOutletInUse).Value())

	require.NoError(t, svc.Characteristic(hap.CharacteristicOn).Write(true))
	assert.True(t, outlet.On())
}
