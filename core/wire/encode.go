package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kilianp07/evtelemetry/core/model"
)

// ErrUnknownRecord is returned by Encode for a nil or foreign record.
var ErrUnknownRecord = errors.New("wire: unknown record type")

// Encode serializes r as a TelemetryPacket. Values outside their declared
// domain are clamped; the discriminator and timestamp are written verbatim.
func Encode(r model.Record) ([]byte, error) {
	return Append(nil, r)
}

// Append is like Encode but appends to b.
func Append(b []byte, r model.Record) ([]byte, error) {
	var (
		num     protowire.Number
		payload []byte
	)
	switch rec := r.(type) {
	case *model.APPSReading:
		if rec == nil {
			return b, ErrUnknownRecord
		}
		num, payload = fieldPacketAPPS, appendAPPS(nil, rec)
	case *model.BMSReading:
		if rec == nil {
			return b, ErrUnknownRecord
		}
		num, payload = fieldPacketBMS, appendBMS(nil, rec)
	case *model.InverterReading:
		if rec == nil {
			return b, ErrUnknownRecord
		}
		num, payload = fieldPacketInverter, appendInverter(nil, rec)
	default:
		return b, fmt.Errorf("%w: %T", ErrUnknownRecord, r)
	}
	b = appendVarint(b, fieldPacketType, uint64(r.DataType()))
	b = appendVarint(b, fieldPacketTimestamp, r.Timestamp())
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload), nil
}

func appendAPPS(b []byte, r *model.APPSReading) []byte {
	b = appendEnum(b, fieldAPPSState, int32(r.State))
	b = appendFloat(b, fieldAPPSThrottle, clamp32(r.ThrottlePct, 0, model.MaxThrottlePct))
	b = appendFloat(b, fieldAPPSCurrent, clamp32(r.MotorCurrentA, 0, model.MaxMotorCurrentA))
	rpm := r.MotorRPM
	if rpm > model.MaxMotorRPM {
		rpm = model.MaxMotorRPM
	}
	return appendVarint(b, fieldAPPSRPM, uint64(rpm))
}

func appendBMS(b []byte, r *model.BMSReading) []byte {
	b = appendBool(b, fieldBMSShutdown, r.ShutdownActivated)
	b = appendEnum(b, fieldBMSShutdownReason, int32(r.ShutdownReason))
	b = appendFloat(b, fieldBMSLVSRail, finite32(r.LVS12VRailV))
	b = appendFloat(b, fieldBMSPositive, clamp32(r.PositiveCurrentA, 0, model.MaxMotorCurrentA))
	b = appendFloat(b, fieldBMSNegative, clamp32(r.NegativeCurrentA, 0, model.MaxMotorCurrentA))
	var seg []byte
	for i := range r.Segments {
		seg = appendSegment(seg[:0], &r.Segments[i])
		b = protowire.AppendTag(b, fieldBMSSegments, protowire.BytesType)
		b = protowire.AppendBytes(b, seg)
	}
	return b
}

func appendSegment(b []byte, s *model.BMSSegment) []byte {
	b = appendFloat(b, fieldSegBuckRail, finite32(s.BuckRailV))
	b = appendVarint(b, fieldSegCellTaps, uint64(s.ConnectedCellTaps))
	b = appendVarint(b, fieldSegDegraded, uint64(s.DegradedCellTaps))
	b = appendVarint(b, fieldSegThermistors, uint64(s.ConnectedThermistors))
	b = appendPackedFloats(b, fieldSegCellVoltages, s.CellVoltages, func(v float32) float32 {
		return clamp32(v, model.MinCellVoltage, model.MaxCellVoltage)
	})
	return appendPackedFloats(b, fieldSegTemperatures, s.Temperatures, finite32)
}

func appendInverter(b []byte, r *model.InverterReading) []byte {
	b = appendEnum(b, fieldInvFault, int32(r.FaultCode))
	erpm := r.ERPM
	if erpm < 0 {
		erpm = 0
	} else if erpm > model.MaxMotorRPM*model.ERPMPerRPM {
		erpm = model.MaxMotorRPM * model.ERPMPerRPM
	}
	b = appendEnum(b, fieldInvERPM, erpm)
	b = appendFloat(b, fieldInvDuty, clamp32(r.DutyCycle, 0, 1))
	b = appendFloat(b, fieldInvInputV, finite32(r.InputDCVoltage))
	b = appendFloat(b, fieldInvACCurrent, clamp32(r.ACMotorCurrentA, 0, model.MaxMotorCurrentA))
	b = appendFloat(b, fieldInvDCCurrent, clamp32(r.DCBatteryCurrentA, 0, model.MaxMotorCurrentA))
	b = appendFloat(b, fieldInvControllerC, finite32(r.ControllerTempC))
	b = appendFloat(b, fieldInvMotorC, finite32(r.MotorTempC))
	b = appendBool(b, fieldInvDriveEnabled, r.DriveEnabled)
	b = protowire.AppendTag(b, fieldInvLimits, protowire.BytesType)
	return protowire.AppendBytes(b, appendLimits(nil, &r.Limits))
}

func appendLimits(b []byte, l *model.LimitStates) []byte {
	for i, v := range limitFlags(l) {
		b = appendBool(b, protowire.Number(i+1), *v)
	}
	return b
}

// limitFlags lists the limit fields in wire order.
func limitFlags(l *model.LimitStates) [numLimitFields]*bool {
	return [numLimitFields]*bool{
		&l.CapacitorTemperature,
		&l.DCCurrentLimit,
		&l.DriveEnableLimit,
		&l.IGBTAccelerationLimit,
		&l.IGBTTemperatureLimit,
		&l.InputVoltageLimit,
		&l.MotorAccelerationTemperatureLimit,
		&l.MotorTemperatureLimit,
		&l.RPMMinimumLimit,
		&l.RPMMaximumLimit,
		&l.PowerLimit,
	}
}

// Scalar helpers follow proto3 presence: zero values are omitted.

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendEnum(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	bits := math.Float32bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32, norm func(float32) float32) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(vs)))
	for _, v := range vs {
		b = protowire.AppendFixed32(b, math.Float32bits(norm(v)))
	}
	return b
}

// finite32 maps NaN to 0 and infinities to the largest finite float32.
func finite32(v float32) float32 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case math.IsInf(f, 1):
		return math.MaxFloat32
	case math.IsInf(f, -1):
		return -math.MaxFloat32
	}
	return v
}

func clamp32(v float32, lo, hi float32) float32 {
	v = finite32(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
