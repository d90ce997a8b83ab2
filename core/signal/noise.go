package signal

import (
	"math/rand/v2"
)

// Noise holds the standard deviation applied to each output field. The
// values are tunable defaults, roughly 1-2% of each signal's span.
type Noise struct {
	ThrottlePct   float64
	CurrentA      float64
	RPM           float64
	ERPM          float64
	CellV         float64
	PackTempC     float64
	SegmentTempC  float64
	ThermistorC   float64
	OnboardTempC  float64
	ControllerC   float64
	MotorC        float64
	DutyCycle     float64
	InputV        float64
	RailBuckV     float64
	RailLVSV      float64
	SenseCurrentA float64
	LeakCurrentA  float64
	ACCurrentA    float64
	DCCurrentA    float64
}

// DefaultNoise mirrors the amplitudes of the bench generator.
var DefaultNoise = Noise{
	ThrottlePct:   0.5,
	CurrentA:      2,
	RPM:           50,
	ERPM:          50,
	CellV:         0.02,
	PackTempC:     1,
	SegmentTempC:  2,
	ThermistorC:   1.5,
	OnboardTempC:  2,
	ControllerC:   2,
	MotorC:        1.5,
	DutyCycle:     0.02,
	InputV:        1,
	RailBuckV:     0.05,
	RailLVSV:      0.2,
	SenseCurrentA: 1,
	LeakCurrentA:  0.5,
	ACCurrentA:    1,
	DCCurrentA:    0.5,
}

// Quiet disables every noise source.
var Quiet = Noise{}

type gaussian struct {
	rng *rand.Rand
}

func newGaussian(seed uint64) gaussian {
	return gaussian{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// sample draws from N(0, sigma²). A non-positive sigma yields 0 without
// consuming randomness.
func (g gaussian) sample(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	return g.rng.NormFloat64() * sigma
}
