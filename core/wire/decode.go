package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kilianp07/evtelemetry/core/model"
)

// ErrMalformed is returned when a packet cannot be decoded.
var ErrMalformed = errors.New("wire: malformed packet")

// Decode parses a TelemetryPacket. Unknown fields are skipped; repeated
// floats are accepted packed or unpacked.
func Decode(b []byte) (model.Record, error) {
	var (
		dataType   model.DataType
		ts         uint64
		payloadNum protowire.Number
		payload    []byte
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if err := checkWire(packetWire, num, typ); err != nil {
			return err
		}
		switch num {
		case fieldPacketType:
			dataType = model.DataType(int32(v.varint))
		case fieldPacketTimestamp:
			ts = v.varint
		case fieldPacketAPPS, fieldPacketBMS, fieldPacketInverter:
			payloadNum, payload = num, v.bytes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	want := map[model.DataType]protowire.Number{
		model.DataTypeAPPS:     fieldPacketAPPS,
		model.DataTypeBMS:      fieldPacketBMS,
		model.DataTypeInverter: fieldPacketInverter,
	}[dataType]
	switch {
	case want == 0:
		return nil, fmt.Errorf("%w: unknown data type %d", ErrMalformed, dataType)
	case payloadNum == 0:
		return nil, fmt.Errorf("%w: %s packet without payload", ErrMalformed, dataType)
	case payloadNum != want:
		return nil, fmt.Errorf("%w: %s packet carries payload field %d", ErrMalformed, dataType, payloadNum)
	}

	switch dataType {
	case model.DataTypeAPPS:
		r := &model.APPSReading{TimestampMS: ts}
		return r, decodeAPPS(payload, r)
	case model.DataTypeBMS:
		r := &model.BMSReading{TimestampMS: ts}
		return r, decodeBMS(payload, r)
	default:
		r := &model.InverterReading{TimestampMS: ts}
		return r, decodeInverter(payload, r)
	}
}

func decodeAPPS(b []byte, r *model.APPSReading) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if err := checkWire(appsWire, num, typ); err != nil {
			return err
		}
		switch num {
		case fieldAPPSState:
			r.State = model.APPSState(int32(v.varint))
		case fieldAPPSThrottle:
			r.ThrottlePct = v.float32()
		case fieldAPPSCurrent:
			r.MotorCurrentA = v.float32()
		case fieldAPPSRPM:
			r.MotorRPM = uint32(v.varint)
		}
		return nil
	})
}

func decodeBMS(b []byte, r *model.BMSReading) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if err := checkWire(bmsWire, num, typ); err != nil {
			return err
		}
		switch num {
		case fieldBMSShutdown:
			r.ShutdownActivated = protowire.DecodeBool(v.varint)
		case fieldBMSShutdownReason:
			r.ShutdownReason = model.ShutdownReason(int32(v.varint))
		case fieldBMSLVSRail:
			r.LVS12VRailV = v.float32()
		case fieldBMSPositive:
			r.PositiveCurrentA = v.float32()
		case fieldBMSNegative:
			r.NegativeCurrentA = v.float32()
		case fieldBMSSegments:
			var seg model.BMSSegment
			if err := decodeSegment(v.bytes, &seg); err != nil {
				return err
			}
			r.Segments = append(r.Segments, seg)
		}
		return nil
	})
}

func decodeSegment(b []byte, s *model.BMSSegment) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if err := checkWire(segmentWire, num, typ); err != nil {
			return err
		}
		var err error
		switch num {
		case fieldSegBuckRail:
			s.BuckRailV = v.float32()
		case fieldSegCellTaps:
			s.ConnectedCellTaps = uint32(v.varint)
		case fieldSegDegraded:
			s.DegradedCellTaps = uint32(v.varint)
		case fieldSegThermistors:
			s.ConnectedThermistors = uint32(v.varint)
		case fieldSegCellVoltages:
			s.CellVoltages, err = appendRepeatedFloat(s.CellVoltages, typ, v)
		case fieldSegTemperatures:
			s.Temperatures, err = appendRepeatedFloat(s.Temperatures, typ, v)
		}
		return err
	})
}

func decodeInverter(b []byte, r *model.InverterReading) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if err := checkWire(inverterWire, num, typ); err != nil {
			return err
		}
		switch num {
		case fieldInvFault:
			r.FaultCode = model.FaultCode(int32(v.varint))
		case fieldInvERPM:
			r.ERPM = int32(v.varint)
		case fieldInvDuty:
			r.DutyCycle = v.float32()
		case fieldInvInputV:
			r.InputDCVoltage = v.float32()
		case fieldInvACCurrent:
			r.ACMotorCurrentA = v.float32()
		case fieldInvDCCurrent:
			r.DCBatteryCurrentA = v.float32()
		case fieldInvControllerC:
			r.ControllerTempC = v.float32()
		case fieldInvMotorC:
			r.MotorTempC = v.float32()
		case fieldInvDriveEnabled:
			r.DriveEnabled = protowire.DecodeBool(v.varint)
		case fieldInvLimits:
			return decodeLimits(v.bytes, &r.Limits)
		}
		return nil
	})
}

func decodeLimits(b []byte, l *model.LimitStates) error {
	flags := limitFlags(l)
	return walk(b, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		if num >= 1 && int(num) <= len(flags) {
			if typ != protowire.VarintType {
				return fmt.Errorf("%w: limit %d has wire type %d", ErrMalformed, num, typ)
			}
			*flags[num-1] = protowire.DecodeBool(v.varint)
		}
		return nil
	})
}

func appendRepeatedFloat(dst []float32, typ protowire.Type, v fieldValue) ([]float32, error) {
	switch typ {
	case protowire.Fixed32Type:
		return append(dst, v.float32()), nil
	case protowire.BytesType:
		if len(v.bytes)%4 != 0 {
			return dst, fmt.Errorf("%w: packed float length %d", ErrMalformed, len(v.bytes))
		}
		for b := v.bytes; len(b) > 0; {
			bits, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return dst, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			dst = append(dst, math.Float32frombits(bits))
			b = b[n:]
		}
		return dst, nil
	default:
		return dst, fmt.Errorf("%w: repeated float has wire type %d", ErrMalformed, typ)
	}
}

// Declared wire types per message. Repeated floats are absent: they may
// arrive packed or unpacked.
var (
	packetWire = map[protowire.Number]protowire.Type{
		fieldPacketType:      protowire.VarintType,
		fieldPacketTimestamp: protowire.VarintType,
		fieldPacketAPPS:      protowire.BytesType,
		fieldPacketBMS:       protowire.BytesType,
		fieldPacketInverter:  protowire.BytesType,
	}
	appsWire = map[protowire.Number]protowire.Type{
		fieldAPPSState:    protowire.VarintType,
		fieldAPPSThrottle: protowire.Fixed32Type,
		fieldAPPSCurrent:  protowire.Fixed32Type,
		fieldAPPSRPM:      protowire.VarintType,
	}
	bmsWire = map[protowire.Number]protowire.Type{
		fieldBMSShutdown:       protowire.VarintType,
		fieldBMSShutdownReason: protowire.VarintType,
		fieldBMSLVSRail:        protowire.Fixed32Type,
		fieldBMSPositive:       protowire.Fixed32Type,
		fieldBMSNegative:       protowire.Fixed32Type,
		fieldBMSSegments:       protowire.BytesType,
	}
	segmentWire = map[protowire.Number]protowire.Type{
		fieldSegBuckRail:    protowire.Fixed32Type,
		fieldSegCellTaps:    protowire.VarintType,
		fieldSegDegraded:    protowire.VarintType,
		fieldSegThermistors: protowire.VarintType,
	}
	inverterWire = map[protowire.Number]protowire.Type{
		fieldInvFault:        protowire.VarintType,
		fieldInvERPM:         protowire.VarintType,
		fieldInvDuty:         protowire.Fixed32Type,
		fieldInvInputV:       protowire.Fixed32Type,
		fieldInvACCurrent:    protowire.Fixed32Type,
		fieldInvDCCurrent:    protowire.Fixed32Type,
		fieldInvControllerC:  protowire.Fixed32Type,
		fieldInvMotorC:       protowire.Fixed32Type,
		fieldInvDriveEnabled: protowire.VarintType,
		fieldInvLimits:       protowire.BytesType,
	}
)

// checkWire rejects a declared field carried with another wire type.
// Undeclared numbers pass so unknown fields can be skipped.
func checkWire(declared map[protowire.Number]protowire.Type, num protowire.Number, typ protowire.Type) error {
	if want, ok := declared[num]; ok && typ != want {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, num, typ, want)
	}
	return nil
}

// fieldValue holds the decoded value of one field; only the member that
// matches the wire type is set.
type fieldValue struct {
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

func (v fieldValue) float32() float32 { return math.Float32frombits(v.fixed32) }

// walk calls fn for every field in b. Groups are skipped; fixed64 values
// are reported without their value since no declared field uses them.
func walk(b []byte, fn func(protowire.Number, protowire.Type, fieldValue) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		var v fieldValue
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			v.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(b)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
