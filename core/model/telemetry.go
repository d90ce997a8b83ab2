package model

// DataType is the packet discriminator.
type DataType int32

const (
	DataTypeUnspecified DataType = iota
	DataTypeAPPS
	DataTypeBMS
	DataTypeInverter
)

// String returns a human-readable representation of the data type.
func (t DataType) String() string {
	switch t {
	case DataTypeAPPS:
		return "apps"
	case DataTypeBMS:
		return "bms"
	case DataTypeInverter:
		return "inverter"
	default:
		return "unknown"
	}
}

// Cycle is the order in which the generator emits data types.
var Cycle = [...]DataType{DataTypeAPPS, DataTypeBMS, DataTypeInverter}

// Record is a telemetry reading of one subsystem. It is implemented only by
// *APPSReading, *BMSReading and *InverterReading.
type Record interface {
	DataType() DataType
	Timestamp() uint64
	isRecord()
}

// APPSState reports the accelerator pedal sensor state.
type APPSState int32

const (
	APPSStateUnspecified APPSState = iota
	APPSStateRunning
	APPSStateFault
)

// APPSReading is the accelerator pedal / motor interface reading.
type APPSReading struct {
	TimestampMS   uint64
	State         APPSState
	ThrottlePct   float32
	MotorCurrentA float32
	MotorRPM      uint32
}

func (*APPSReading) DataType() DataType   { return DataTypeAPPS }
func (r *APPSReading) Timestamp() uint64 { return r.TimestampMS }
func (*APPSReading) isRecord()            {}

// ShutdownReason explains why the BMS opened the shutdown circuit.
type ShutdownReason int32

const (
	ShutdownReasonUnspecified ShutdownReason = iota
	ShutdownReasonOvervoltage
	ShutdownReasonUndervoltage
	ShutdownReasonOvertemperature
	ShutdownReasonOvercurrent
)

// BMSSegment is the reading of one battery segment.
type BMSSegment struct {
	BuckRailV            float32
	ConnectedCellTaps    uint32
	DegradedCellTaps     uint32
	ConnectedThermistors uint32
	CellVoltages         []float32
	Temperatures         []float32
}

// Bitsets reported by a healthy segment.
const (
	AllCellTaps    uint32 = 1<<CellsPerSegment - 1
	AllThermistors uint32 = 1<<ThermistorsPerSegment - 1
)

// BMSReading is the battery management system reading.
type BMSReading struct {
	TimestampMS       uint64
	ShutdownActivated bool
	ShutdownReason    ShutdownReason
	LVS12VRailV       float32
	PositiveCurrentA  float32
	NegativeCurrentA  float32
	Segments          []BMSSegment
}

func (*BMSReading) DataType() DataType   { return DataTypeBMS }
func (r *BMSReading) Timestamp() uint64 { return r.TimestampMS }
func (*BMSReading) isRecord()            {}

// PackVoltage returns the sum of every reported cell voltage.
func (r *BMSReading) PackVoltage() float64 {
	var sum float64
	for _, seg := range r.Segments {
		for _, v := range seg.CellVoltages {
			sum += float64(v)
		}
	}
	return sum
}

// FaultCode is the inverter fault register.
type FaultCode int32

const (
	FaultCodeUnspecified FaultCode = iota
	FaultCodeNoFaults
	FaultCodeOvervoltage
	FaultCodeUndervoltage
	FaultCodeDriveError
	FaultCodeOvercurrent
	FaultCodeControllerOvertemperature
	FaultCodeMotorOvertemperature
	FaultCodeSensorWireFault
	FaultCodeSensorGeneralFault
	FaultCodeCANError
	FaultCodeAnalogInputError
)

// String returns the fault name.
func (f FaultCode) String() string {
	switch f {
	case FaultCodeNoFaults:
		return "no_faults"
	case FaultCodeOvervoltage:
		return "overvoltage"
	case FaultCodeUndervoltage:
		return "undervoltage"
	case FaultCodeDriveError:
		return "drive_error"
	case FaultCodeOvercurrent:
		return "overcurrent"
	case FaultCodeControllerOvertemperature:
		return "controller_overtemperature"
	case FaultCodeMotorOvertemperature:
		return "motor_overtemperature"
	case FaultCodeSensorWireFault:
		return "sensor_wire_fault"
	case FaultCodeSensorGeneralFault:
		return "sensor_general_fault"
	case FaultCodeCANError:
		return "can_error"
	case FaultCodeAnalogInputError:
		return "analog_input_error"
	default:
		return "unspecified"
	}
}

// LimitStates are the active inverter derating limits.
type LimitStates struct {
	CapacitorTemperature              bool
	DCCurrentLimit                    bool
	DriveEnableLimit                  bool
	IGBTAccelerationLimit             bool
	IGBTTemperatureLimit              bool
	InputVoltageLimit                 bool
	MotorAccelerationTemperatureLimit bool
	MotorTemperatureLimit             bool
	RPMMinimumLimit                   bool
	RPMMaximumLimit                   bool
	PowerLimit                        bool
}

// InverterReading is the motor controller reading.
type InverterReading struct {
	TimestampMS       uint64
	FaultCode         FaultCode
	ERPM              int32
	DutyCycle         float32
	InputDCVoltage    float32
	ACMotorCurrentA   float32
	DCBatteryCurrentA float32
	ControllerTempC   float32
	MotorTempC        float32
	DriveEnabled      bool
	Limits            LimitStates
}

func (*InverterReading) DataType() DataType   { return DataTypeInverter }
func (r *InverterReading) Timestamp() uint64 { return r.TimestampMS }
func (*InverterReading) isRecord()            {}
