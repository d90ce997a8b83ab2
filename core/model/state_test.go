package model

import (
	"errors"
	"io"
	"math"
	"testing"
)

func TestNewVehicleStatePackVoltage(t *testing.T) {
	s := NewVehicleState(25)
	want := 3.7 * TotalCells
	if math.Abs(s.PackVoltageV-want) > 1e-3 {
		t.Fatalf("expected %.3f got %.3f", want, s.PackVoltageV)
	}
	if s.ControllerTempC != 25 || s.MotorTempC != 25 || s.PackTempC != 25 {
		t.Fatalf("temperatures not at ambient: %+v", s)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-1, 0},
		{50, 50},
		{101, 100},
		{math.NaN(), 0},
		{math.Inf(1), 100},
	}
	for _, c := range cases {
		if got := Clamp(c.in, 0, 100); got != c.want {
			t.Errorf("Clamp(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLoadFactor(t *testing.T) {
	s := VehicleState{MotorCurrentA: 75}
	if lf := s.LoadFactor(); lf != 0.5 {
		t.Fatalf("expected 0.5 got %v", lf)
	}
	s.MotorCurrentA = 300
	if lf := s.LoadFactor(); lf != 1 {
		t.Fatalf("expected 1 got %v", lf)
	}
}

func TestErrorsMatch(t *testing.T) {
	var err error = NewConfigurationError("profile", "unknown profile %q", "moon")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("configuration error not matched")
	}
	if err.Error() != `invalid profile: unknown profile "moon"` {
		t.Fatalf("unexpected message %q", err.Error())
	}

	err = &SinkWriteError{Op: "write", Err: io.ErrClosedPipe}
	if !errors.Is(err, ErrSinkWrite) || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("sink error not matched")
	}
}

func TestHealthyBitsets(t *testing.T) {
	if AllCellTaps != 0xFFF {
		t.Fatalf("cell taps %#x", AllCellTaps)
	}
	if AllThermistors != 0x7FFFFF {
		t.Fatalf("thermistors %#x", AllThermistors)
	}
}
