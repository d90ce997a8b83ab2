package model

import (
	"math"
	"time"
)

// Battery pack topology.
const (
	Segments              = 5
	CellsPerSegment       = 12
	ThermistorsPerSegment = 23
	// OnboardThermistors are the balancer-board sensors at the start of each
	// segment's thermistor list.
	OnboardThermistors = 3
	TotalCells         = Segments * CellsPerSegment
)

// Physical bounds of the emitted signals.
const (
	MaxThrottlePct   = 100.0
	MaxMotorCurrentA = 150.0
	MaxMotorRPM      = 4000.0
	MinCellVoltage   = 3.0
	MaxCellVoltage   = 4.3
	// ERPMPerRPM is the electrical to mechanical speed ratio of the motor.
	ERPMPerRPM = 7
)

// VehicleState is the mutable simulation state carried across ticks.
// It is owned by a single engine loop and never shared.
type VehicleState struct {
	ThrottlePct     float64 // smoothed pedal position [0,100]
	MotorCurrentA   float64 // [0,150]
	MotorRPM        float64 // [0,4000]
	PackTempC       float64
	ControllerTempC float64
	MotorTempC      float64

	// Cells holds the per-cell voltages of the current tick.
	Cells        [Segments][CellsPerSegment]float32
	PackVoltageV float64 // sum of Cells

	OdometerKm float64
	EnergyKWh  float64
	Elapsed    time.Duration
}

// NewVehicleState returns a state at rest with every temperature at ambient
// and nominal cell voltages.
func NewVehicleState(ambientC float64) VehicleState {
	s := VehicleState{
		PackTempC:       ambientC,
		ControllerTempC: ambientC,
		MotorTempC:      ambientC,
	}
	for seg := range s.Cells {
		for c := range s.Cells[seg] {
			s.Cells[seg][c] = 3.7
		}
	}
	s.PackVoltageV = s.SumCells()
	return s
}

// SumCells returns the sum of all cell voltages.
func (s *VehicleState) SumCells() float64 {
	var sum float64
	for seg := range s.Cells {
		for _, v := range s.Cells[seg] {
			sum += float64(v)
		}
	}
	return sum
}

// LoadFactor returns the motor current as a fraction of the maximum.
func (s *VehicleState) LoadFactor() float64 {
	return Clamp(math.Abs(s.MotorCurrentA)/MaxMotorCurrentA, 0, 1)
}

// Clamp limits v to [lo,hi]. NaN is mapped to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
