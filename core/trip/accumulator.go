// Package trip integrates distance and energy over a run.
package trip

import (
	"time"

	"github.com/kilianp07/evtelemetry/core/model"
)

const (
	// TopSpeedKmh is the vehicle speed at maximum motor RPM.
	TopSpeedKmh  = 120.0
	joulesPerKWh = 3.6e6
)

// Accumulator holds the odometer and energy counters of a run. Both are
// monotonically non-decreasing; a new run starts from a new Accumulator.
type Accumulator struct {
	odometerKm float64
	energyKWh  float64
}

// Update integrates one tick of length dt. The speed proxy is derived from
// the motor RPM and the power from pack voltage times motor current.
// Negative contributions are discarded.
func (a *Accumulator) Update(rpm, currentA, packV float64, dt time.Duration) {
	h := dt.Hours()
	if h <= 0 {
		return
	}
	if speed := rpm / model.MaxMotorRPM * TopSpeedKmh; speed > 0 {
		a.odometerKm += speed * h
	}
	if power := packV * currentA; power > 0 {
		a.energyKWh += power * dt.Seconds() / joulesPerKWh
	}
}

// Apply integrates the tick from the vehicle state and copies the totals
// back into it.
func (a *Accumulator) Apply(s *model.VehicleState, dt time.Duration) {
	a.Update(s.MotorRPM, s.MotorCurrentA, s.PackVoltageV, dt)
	s.OdometerKm = a.odometerKm
	s.EnergyKWh = a.energyKWh
}

// OdometerKm returns the distance travelled.
func (a *Accumulator) OdometerKm() float64 { return a.odometerKm }

// EnergyKWh returns the energy drawn from the pack.
func (a *Accumulator) EnergyKWh() float64 { return a.energyKWh }
