package dayphase

import (
	"testing"
	"time"

	"homebridge/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Greenwich on the summer solstice: sunrise is close to 03:43 UTC and
// sunset close to 20:21 UTC.
const (
	greenwichLat = 51.4769
	greenwichLon = 0.0
)

func solstice(hour, minute int) time.Time {
	return time.Date(2024, time.June, 21, hour, minute, 0, 0, time.UTC)
}

func newCalculator(t *testing.T, nightStart int) *Calculator {
	t.Helper()
	c, err := NewCalculator(greenwichLat, greenwichLon, nightStart, clock.NewMock(solstice(12, 0)), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestPhaseAt(t *testing.T) {
	c := newCalculator(t, DefaultNightStart)

	tests := []struct {
		name string
		at   time.Time
		want Phase
	}{
		{"before dawn", solstice(2, 0), PhaseNight},
		{"civil twilight before sunrise", solstice(3, 30), PhaseMorning},
		{"mid morning", solstice(9, 0), PhaseMorning},
		{"afternoon", solstice(13, 0), PhaseDay},
		{"golden hour", solstice(19, 45), PhaseSunset},
		{"after sunset", solstice(20, 35), PhaseDusk},
		{"evening", solstice(21, 30), PhaseWinddown},
		{"late evening", solstice(23, 30), PhaseNight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.PhaseAt(tt.at))
		})
	}
}

func TestPhaseAt_NightStart(t *testing.T) {
	c := newCalculator(t, 21)
	assert.Equal(t, PhaseNight, c.PhaseAt(solstice(21, 30)))

	c = newCalculator(t, 99)
	assert.Equal(t, PhaseWinddown, c.PhaseAt(solstice(21, 30)), "out of range hours fall back to the default")
}

func TestPhase_UsesClock(t *testing.T) {
	clk := clock.NewMock(solstice(13, 0))
	c, err := NewCalculator(greenwichLat, greenwichLon, DefaultNightStart, clk, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, PhaseDay, c.Phase())
	clk.Advance(10 * time.Hour)
	assert.Equal(t, PhaseNight, c.Phase())
}

func TestSunTimes(t *testing.T) {
	c := newCalculator(t, DefaultNightStart)

	times, ok := c.SunTimes(solstice(12, 0))
	require.True(t, ok)
	assert.WithinDuration(t, solstice(3, 43), times.Sunrise, 10*time.Minute)
	assert.WithinDuration(t, solstice(20, 21), times.Sunset, 10*time.Minute)
	assert.Equal(t, 30*time.Minute, times.Sunrise.Sub(times.Dawn))
	assert.Equal(t, time.Hour, times.Sunset.Sub(times.SunsetStart))

	again, _ := c.SunTimes(solstice(18, 0))
	assert.Equal(t, times, again, "sun times are cached for the day")
}

func TestPhaseAt_PolarDay(t *testing.T) {
	c, err := NewCalculator(89, 0, DefaultNightStart, nil, zap.NewNop())
	require.NoError(t, err)

	_, ok := c.SunTimes(solstice(12, 0))
	assert.False(t, ok)
	assert.Equal(t, PhaseNight, c.PhaseAt(solstice(12, 0)))
}

func TestNewCalculator_InvalidLocation(t *testing.T) {
	_, err := NewCalculator(91, 0, 0, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewCalculator(0, -181, 0, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestLightLevel(t *testing.T) {
	assert.Equal(t, 10000.0, LightLevel(PhaseDay))
	assert.Equal(t, 0.0001, LightLevel(PhaseNight))
	assert.Greater(t, LightLevel(PhaseSunset), LightLevel(PhaseDusk))
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("winddown")
	require.NoError(t, err)
	assert.Equal(t, PhaseWinddown, p)

	_, err = ParsePhase("brunch")
	assert.Error(t, err)
}
