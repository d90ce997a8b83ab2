// Package profile holds the mission profiles that drive the throttle and
// thermal behaviour of the generator.
package profile

import (
	"math"
	"strings"
	"time"

	"github.com/kilianp07/evtelemetry/core/model"
)

// ID identifies a mission profile.
type ID int

const (
	Idle ID = iota
	City
	Highway
	TrackDay
	EfficiencyTest
	numProfiles
)

// AmbientC is the ambient temperature the vehicle cools towards at rest.
const AmbientC = 25.0

// Profile is an immutable mission preset.
type Profile struct {
	ID    ID
	Name  string
	Label string
	// ThrottleMin and ThrottleMax bound the target in percent.
	ThrottleMin float64
	ThrottleMax float64
	// Cycle is the period of the throttle pattern. Zero means constant.
	Cycle     time.Duration
	BaseTempC float64
	// ControllerGainC is the controller temperature rise at full load.
	ControllerGainC float64
}

var table = [numProfiles]Profile{
	Idle: {
		ID: Idle, Name: "idle", Label: "Idle",
		BaseTempC: AmbientC, ControllerGainC: 20,
	},
	City: {
		ID: City, Name: "city", Label: "City",
		ThrottleMax: 40, Cycle: 60 * time.Second,
		BaseTempC: 30, ControllerGainC: 20,
	},
	Highway: {
		ID: Highway, Name: "highway", Label: "Highway",
		ThrottleMin: 60, ThrottleMax: 95, Cycle: 120 * time.Second,
		BaseTempC: 35, ControllerGainC: 25,
	},
	TrackDay: {
		ID: TrackDay, Name: "track_day", Label: "Track",
		ThrottleMin: 10, ThrottleMax: 100, Cycle: 180 * time.Second,
		BaseTempC: 45, ControllerGainC: 35,
	},
	EfficiencyTest: {
		ID: EfficiencyTest, Name: "efficiency_test", Label: "Efficiency",
		ThrottleMin: 5, ThrottleMax: 25,
		Cycle: 125664 * time.Millisecond, // 2π/0.05 s
		BaseTempC: 22, ControllerGainC: 20,
	},
}

// Get returns the profile for id. It panics on an id outside the enum.
func Get(id ID) Profile {
	return table[id]
}

// All returns every profile in declaration order.
func All() []Profile {
	out := make([]Profile, len(table))
	copy(out, table[:])
	return out
}

// Names returns the accepted profile names.
func Names() []string {
	names := make([]string, len(table))
	for i, p := range table {
		names[i] = p.Name
	}
	return names
}

// Parse resolves a profile by name. Unknown names yield a
// *model.ConfigurationError.
func Parse(name string) (Profile, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, p := range table {
		if p.Name == n {
			return p, nil
		}
	}
	return Profile{}, model.NewConfigurationError("mission profile",
		"unknown profile %q (valid: %s)", name, strings.Join(Names(), ", "))
}

// String returns the profile name.
func (id ID) String() string {
	if id < 0 || id >= numProfiles {
		return "unknown"
	}
	return table[id].Name
}

// ThrottleTarget returns the target pedal position in percent for the
// given time since start.
func (p Profile) ThrottleTarget(elapsed time.Duration) float64 {
	t := elapsed.Seconds()
	var target float64
	switch p.ID {
	case Idle:
		target = 0
	case City:
		c := math.Mod(t, 60)
		switch {
		case c < 15:
			target = math.Min(40, c/15*40)
		case c < 35:
			target = 30 + 10*math.Sin(t*0.3)
		case c < 45:
			target = math.Max(0, 30-(c-35)/10*30)
		default:
			target = 0
		}
	case Highway:
		if t < 10 {
			target = 60 + t/10*20
			break
		}
		c := math.Mod(t-10, 120)
		if c > 40 && c < 60 {
			target = 95
		} else {
			target = 75 + 5*math.Sin(t*0.1)
		}
	case TrackDay:
		lap := math.Mod(t, 180)
		if lap < 120 {
			target = 70 + 30*math.Abs(math.Sin(lap*0.1))
		} else {
			target = 20 + 10*math.Sin(lap*0.2)
		}
	case EfficiencyTest:
		target = 15 + 10*math.Sin(t*0.05)
	}
	return model.Clamp(target, 0, model.MaxThrottlePct)
}

// ControllerTarget returns the steady-state controller temperature at the
// given load factor.
func (p Profile) ControllerTarget(load float64) float64 {
	return p.BaseTempC + model.Clamp(load, 0, 1)*p.ControllerGainC
}
