// Package dayphase derives the phase of the day (morning, day, sunset, dusk,
// winddown, night) from the sun times at a location.
package dayphase

import (
	"fmt"
	"sync"
	"time"

	"homebridge/internal/clock"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"
)

// Phase is a phase of the day.
type Phase string

const (
	PhaseMorning  Phase = "morning"
	PhaseDay      Phase = "day"
	PhaseSunset   Phase = "sunset"
	PhaseDusk     Phase = "dusk"
	PhaseWinddown Phase = "winddown"
	PhaseNight    Phase = "night"
)

// Twilight offsets around sunrise and sunset.
const (
	civilTwilight = 30 * time.Minute
	goldenHour    = time.Hour
)

// DefaultNightStart is the hour at which winddown becomes night.
const DefaultNightStart = 23

// SunTimes are the sun events of one day.
type SunTimes struct {
	Dawn        time.Time
	Sunrise     time.Time
	SunriseEnd  time.Time
	SunsetStart time.Time
	Sunset      time.Time
	Dusk        time.Time
}

// Calculator computes day phases for a fixed location. Sun times are cached
// per calendar day.
type Calculator struct {
	latitude   float64
	longitude  float64
	nightStart int
	clock      clock.Clock
	logger     *zap.Logger

	mu     sync.Mutex
	day    time.Time
	cached SunTimes
	ok     bool
}

// NewCalculator creates a calculator. nightStart is the hour (0-23) after
// which evenings count as night; values outside that range use
// DefaultNightStart.
func NewCalculator(latitude, longitude float64, nightStart int, clk clock.Clock, logger *zap.Logger) (*Calculator, error) {
	if latitude < -90 || latitude > 90 {
		return nil, fmt.Errorf("invalid latitude %v", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("invalid longitude %v", longitude)
	}
	if nightStart < 0 || nightStart > 23 {
		nightStart = DefaultNightStart
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Calculator{
		latitude:   latitude,
		longitude:  longitude,
		nightStart: nightStart,
		clock:      clk,
		logger:     logger,
	}, nil
}

// SunTimes returns the sun events for the day of t. ok is false when the sun
// does not rise or set that day.
func (c *Calculator) SunTimes(t time.Time) (SunTimes, bool) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day.Equal(day) {
		return c.cached, c.ok
	}

	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, t.Year(), t.Month(), t.Day())
	times := SunTimes{
		Dawn:        rise.Add(-civilTwilight),
		Sunrise:     rise,
		SunriseEnd:  rise.Add(civilTwilight),
		SunsetStart: set.Add(-goldenHour),
		Sunset:      set,
		Dusk:        set.Add(civilTwilight),
	}
	c.day, c.cached, c.ok = day, times, !rise.IsZero() && !set.IsZero()

	if c.ok {
		c.logger.Debug("Sun times updated",
			zap.Time("sunrise", rise),
			zap.Time("sunset", set))
	} else {
		c.logger.Debug("No sunrise or sunset at this location today")
	}
	return c.cached, c.ok
}

// PhaseAt returns the phase at t. Days without a sunrise or sunset count as
// night.
func (c *Calculator) PhaseAt(t time.Time) Phase {
	times, ok := c.SunTimes(t)
	if !ok {
		return PhaseNight
	}

	switch {
	case t.Before(times.Dawn):
		return PhaseNight
	case t.Before(times.SunriseEnd):
		return PhaseMorning
	case t.Before(times.SunsetStart):
		// Mornings end at noon
		if t.Hour() < 12 {
			return PhaseMorning
		}
		return PhaseDay
	case t.Before(times.Sunset):
		return PhaseSunset
	case t.Before(times.Dusk):
		return PhaseDusk
	case t.Hour() >= c.nightStart || t.Hour() < 6:
		return PhaseNight
	default:
		return PhaseWinddown
	}
}

// Phase returns the current phase.
func (c *Calculator) Phase() Phase {
	return c.PhaseAt(c.clock.Now())
}

// LightLevel approximates the ambient light in lux for a phase.
func LightLevel(p Phase) float64 {
	switch p {
	case PhaseDay:
		return 10000
	case PhaseMorning, PhaseSunset:
		return 1000
	case PhaseDusk:
		return 10
	case PhaseWinddown:
		return 1
	default:
		return 0.0001
	}
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseMorning, PhaseDay, PhaseSunset, PhaseDusk, PhaseWinddown, PhaseNight:
		return p, nil
	default:
		return "", fmt.Errorf("invalid day phase: %s", s)
	}
}
