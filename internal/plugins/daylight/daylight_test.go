package daylight

import (
	"testing"
	"time"

	"homebridge/internal/clock"
	"homebridge/internal/dayphase"
	"homebridge/pkg/hap"
	"homebridge/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func greenwich(name string) plugin.Config {
	return plugin.Config{"name": name, "latitude": 51.4769, "longitude": 0.0}
}

func newSensor(t *testing.T, cfg plugin.Config, at time.Time) (*Sensor, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(at)
	s, err := NewSensor(plugin.NewContext(zap.NewNop(), cfg, nil), clk)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, clk
}

func level(s *Sensor) any {
	return s.Services()[0].(*hap.Service).Characteristic(hap.CharacteristicAmbientLightLevel).Value()
}

func TestSensor_ReadingFollowsTheSun(t *testing.T) {
	noon := time.Date(2024, time.June, 21, 13, 0, 0, 0, time.UTC)
	s, clk := newSensor(t, greenwich("Garden"), noon)

	assert.Equal(t, dayphase.PhaseDay, s.Phase())
	assert.Equal(t, dayphase.LightLevel(dayphase.PhaseDay), level(s))
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(7*time.Hour + 35*time.Minute)
	assert.Equal(t, dayphase.PhaseDusk, s.Phase())
	assert.Equal(t, dayphase.LightLevel(dayphase.PhaseDusk), level(s))

	clk.Advance(3 * time.Hour)
	assert.Equal(t, dayphase.PhaseNight, s.Phase())
}

func TestSensor_NightStartAndRefresh(t *testing.T) {
	cfg := greenwich("Garden")
	cfg["nightStart"] = 21
	cfg["refresh"] = "1m"
	s, clk := newSensor(t, cfg, time.Date(2024, time.June, 21, 21, 30, 0, 0, time.UTC))

	assert.Equal(t, dayphase.PhaseNight, s.Phase())
	assert.Equal(t, time.Minute, s.refresh)
	assert.Equal(t, 1, clk.Pending())
}

func TestSensor_StopCancelsUpdates(t *testing.T) {
	s, clk := newSensor(t, greenwich("Garden"), time.Date(2024, time.June, 21, 13, 0, 0, 0, time.UTC))

	s.Stop()
	assert.Zero(t, clk.Pending())

	clk.Advance(10 * time.Hour)
	assert.Equal(t, dayphase.PhaseDay, s.Phase(), "a stopped sensor keeps its last reading")
}

func TestNewSensor_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  plugin.Config
	}{
		{"bad refresh", plugin.Config{"name": "x", "refresh": "soon"}},
		{"negative refresh", plugin.Config{"name": "x", "refresh": "-1m"}},
		{"latitude out of range", plugin.Config{"name": "x", "latitude": 123.0}},
		{"wrong type", plugin.Config{"name": "x", "latitude": "north"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSensor(plugin.NewContext(zap.NewNop(), tt.cfg, nil), clock.NewMock(time.Now()))
			assert.Error(t, err)
		})
	}
}
