// Package signal turns elapsed time and a mission profile into vehicle
// state and per-subsystem readings.
package signal

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/profile"
)

// Time constants of the first-order lags.
const (
	throttleTau   = 0.6  // seconds; about 0.15 per tick at 10 Hz
	packTau       = 60.0 // seconds
	controllerTau = 20.0
	motorTau      = 45.0
	// maxTempRate bounds how fast any temperature may move, in °C/s.
	maxTempRate = 2.0
)

// Cell model parameters.
const (
	cellNominalV = 3.7
	cellSwingV   = 0.3
	// cellSagPerA approximates the voltage drop under load.
	cellSagPerA = 0.002
)

// Inverter thresholds, scaled to the 60 cell pack.
const (
	capacitorLimitC      = 70
	igbtLimitC           = 80
	controllerFaultC     = 90
	motorAccelLimitC     = 85
	motorLimitC          = 100
	motorFaultC          = 110
	dcCurrentLimitA      = 140
	overcurrentFaultA    = 160
	rpmMaxLimit          = 3800
	rpmMinLimit          = 100
	rpmMinThrottlePct    = 10
	powerLimitW          = 50000
	inputVoltageLowV     = 3.2 * model.TotalCells
	inputVoltageHighV    = 4.2 * model.TotalCells
	undervoltageFaultV   = model.MinCellVoltage * model.TotalCells
	overvoltageFaultV    = model.MaxCellVoltage * model.TotalCells
	onboardThermistorAdd = 5
	thermistorLoadPerA   = 0.05
	packTempPerA         = 0.1
	motorGainFactor      = 1.2
)

// Model advances a VehicleState for one mission profile.
type Model struct {
	profile profile.Profile
	noise   Noise
	g       gaussian
	cells   [model.TotalCells]float64
}

// New returns a Model using DefaultNoise and the given seed.
func New(p profile.Profile, seed uint64) *Model {
	return NewWithNoise(p, seed, DefaultNoise)
}

// NewWithNoise returns a Model with explicit noise amplitudes.
func NewWithNoise(p profile.Profile, seed uint64, n Noise) *Model {
	return &Model{profile: p, noise: n, g: newGaussian(seed)}
}

// Profile returns the active mission profile.
func (m *Model) Profile() profile.Profile { return m.profile }

// Advance moves the state to elapsed. It updates throttle, current, rpm,
// temperatures and cell voltages; trip counters are left untouched.
func (m *Model) Advance(s *model.VehicleState, elapsed time.Duration) {
	dt := (elapsed - s.Elapsed).Seconds()
	if dt < 0 {
		dt = 0
	}
	s.Elapsed = elapsed

	target := m.profile.ThrottleTarget(elapsed)
	s.ThrottlePct = model.Clamp(s.ThrottlePct+(target-s.ThrottlePct)*lag(dt, throttleTau), 0, model.MaxThrottlePct)

	pedal := s.ThrottlePct / model.MaxThrottlePct
	s.MotorCurrentA = model.Clamp(pedal*model.MaxMotorCurrentA+m.g.sample(m.noise.CurrentA), 0, model.MaxMotorCurrentA)
	s.MotorRPM = model.Clamp(pedal*model.MaxMotorRPM+m.g.sample(m.noise.RPM), 0, model.MaxMotorRPM)

	load := s.LoadFactor()
	base := m.profile.BaseTempC
	s.PackTempC = approach(s.PackTempC, base+packTempPerA*s.MotorCurrentA, dt, packTau)
	s.ControllerTempC = approach(s.ControllerTempC, m.profile.ControllerTarget(load), dt, controllerTau)
	s.MotorTempC = approach(s.MotorTempC, base+load*motorGainFactor*m.profile.ControllerGainC, dt, motorTau)

	t := elapsed.Seconds()
	for seg := range s.Cells {
		for i := range s.Cells[seg] {
			v := cellNominalV + cellSwingV*math.Sin(t*0.1+float64(i)*0.5) -
				cellSagPerA*s.MotorCurrentA + m.g.sample(m.noise.CellV)
			c := float32(model.Clamp(v, model.MinCellVoltage, model.MaxCellVoltage))
			s.Cells[seg][i] = c
			m.cells[seg*model.CellsPerSegment+i] = float64(c)
		}
	}
	s.PackVoltageV = floats.Sum(m.cells[:])
}

// Record builds the reading of one subsystem from the current state.
func (m *Model) Record(dt model.DataType, s *model.VehicleState, timestampMS uint64) model.Record {
	switch dt {
	case model.DataTypeAPPS:
		return m.APPS(s, timestampMS)
	case model.DataTypeBMS:
		return m.BMS(s, timestampMS)
	case model.DataTypeInverter:
		return m.Inverter(s, timestampMS)
	default:
		return nil
	}
}

// APPS builds the pedal reading.
func (m *Model) APPS(s *model.VehicleState, timestampMS uint64) *model.APPSReading {
	return &model.APPSReading{
		TimestampMS:   timestampMS,
		State:         model.APPSStateRunning,
		ThrottlePct:   float32(model.Clamp(s.ThrottlePct+m.g.sample(m.noise.ThrottlePct), 0, model.MaxThrottlePct)),
		MotorCurrentA: float32(s.MotorCurrentA),
		MotorRPM:      uint32(math.Round(s.MotorRPM)),
	}
}

// BMS builds the battery reading. Cell voltages are copied from the state
// so the reported pack voltage matches s.PackVoltageV.
func (m *Model) BMS(s *model.VehicleState, timestampMS uint64) *model.BMSReading {
	r := &model.BMSReading{
		TimestampMS:      timestampMS,
		ShutdownReason:   model.ShutdownReasonUnspecified,
		LVS12VRailV:      float32(12 + m.g.sample(m.noise.RailLVSV)),
		PositiveCurrentA: float32(model.Clamp(s.MotorCurrentA+m.g.sample(m.noise.SenseCurrentA), 0, model.MaxMotorCurrentA)),
		NegativeCurrentA: float32(math.Max(0, -math.Min(0, m.g.sample(m.noise.LeakCurrentA)))),
		Segments:         make([]model.BMSSegment, model.Segments),
	}
	packTemp := s.PackTempC + m.g.sample(m.noise.PackTempC)
	for seg := range r.Segments {
		segTemp := packTemp + m.g.sample(m.noise.SegmentTempC)
		cells := make([]float32, model.CellsPerSegment)
		copy(cells, s.Cells[seg][:])
		temps := make([]float32, model.ThermistorsPerSegment)
		for i := range temps {
			if i < model.OnboardThermistors {
				temps[i] = float32(segTemp + onboardThermistorAdd + m.g.sample(m.noise.OnboardTempC))
				continue
			}
			temps[i] = float32(segTemp + m.g.sample(m.noise.ThermistorC) + thermistorLoadPerA*s.MotorCurrentA)
		}
		r.Segments[seg] = model.BMSSegment{
			BuckRailV:            float32(3.3 + m.g.sample(m.noise.RailBuckV)),
			ConnectedCellTaps:    model.AllCellTaps,
			ConnectedThermistors: model.AllThermistors,
			CellVoltages:         cells,
			Temperatures:         temps,
		}
	}
	return r
}

// Inverter builds the motor controller reading, deriving limit flags and
// the fault code from the noisy values it reports.
func (m *Model) Inverter(s *model.VehicleState, timestampMS uint64) *model.InverterReading {
	ctrl := s.ControllerTempC + m.g.sample(m.noise.ControllerC)
	motor := s.MotorTempC + m.g.sample(m.noise.MotorC)
	input := s.PackVoltageV + m.g.sample(m.noise.InputV)
	erpm := model.Clamp(s.MotorRPM*model.ERPMPerRPM+m.g.sample(m.noise.ERPM), 0, model.MaxMotorRPM*model.ERPMPerRPM)
	duty := model.Clamp(s.ThrottlePct/model.MaxThrottlePct*0.9+m.g.sample(m.noise.DutyCycle), 0, 1)
	ac := model.Clamp(math.Abs(s.MotorCurrentA+m.g.sample(m.noise.ACCurrentA)), 0, model.MaxMotorCurrentA)
	dc := model.Clamp(s.MotorCurrentA+m.g.sample(m.noise.DCCurrentA), 0, model.MaxMotorCurrentA)

	limits := model.LimitStates{
		CapacitorTemperature:              ctrl > capacitorLimitC,
		DCCurrentLimit:                    s.MotorCurrentA > dcCurrentLimitA,
		IGBTTemperatureLimit:              ctrl > igbtLimitC,
		InputVoltageLimit:                 input < inputVoltageLowV || input > inputVoltageHighV,
		MotorAccelerationTemperatureLimit: motor > motorAccelLimitC,
		MotorTemperatureLimit:             motor > motorLimitC,
		RPMMinimumLimit:                   s.MotorRPM < rpmMinLimit && s.ThrottlePct > rpmMinThrottlePct,
		RPMMaximumLimit:                   s.MotorRPM > rpmMaxLimit,
		PowerLimit:                        s.MotorCurrentA*input > powerLimitW,
	}
	fault := faultCode(ctrl, motor, input, s.MotorCurrentA)
	return &model.InverterReading{
		TimestampMS:       timestampMS,
		FaultCode:         fault,
		ERPM:              int32(math.Round(erpm)),
		DutyCycle:         float32(duty),
		InputDCVoltage:    float32(input),
		ACMotorCurrentA:   float32(ac),
		DCBatteryCurrentA: float32(dc),
		ControllerTempC:   float32(ctrl),
		MotorTempC:        float32(motor),
		DriveEnabled:      fault == model.FaultCodeNoFaults,
		Limits:            limits,
	}
}

func faultCode(ctrlC, motorC, inputV, currentA float64) model.FaultCode {
	switch {
	case ctrlC > controllerFaultC:
		return model.FaultCodeControllerOvertemperature
	case motorC > motorFaultC:
		return model.FaultCodeMotorOvertemperature
	case inputV < undervoltageFaultV:
		return model.FaultCodeUndervoltage
	case inputV > overvoltageFaultV:
		return model.FaultCodeOvervoltage
	case math.Abs(currentA) > overcurrentFaultA:
		return model.FaultCodeOvercurrent
	default:
		return model.FaultCodeNoFaults
	}
}

// lag returns the fraction of the gap closed in dt by a first-order system
// with time constant tau.
func lag(dt, tau float64) float64 {
	if dt <= 0 {
		return 0
	}
	return 1 - math.Exp(-dt/tau)
}

func approach(cur, target, dt, tau float64) float64 {
	step := (target - cur) * lag(dt, tau)
	limit := maxTempRate * dt
	if step > limit {
		step = limit
	} else if step < -limit {
		step = -limit
	}
	return cur + step
}
