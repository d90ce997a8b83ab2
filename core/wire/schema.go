// Package wire encodes telemetry records in the dashboard's protobuf
// packet format and decodes them back.
//
// The schema is fixed by the dashboard:
//
//	enum DataType { DATA_TYPE_UNSPECIFIED = 0; DATA_TYPE_APPS = 1;
//	                DATA_TYPE_BMS = 2; DATA_TYPE_INVERTER = 3; }
//
//	message TelemetryPacket {
//	  DataType type = 1;
//	  uint64 timestamp_ms = 2;
//	  oneof payload {
//	    APPSData apps_data = 3;
//	    BMSData bms_data = 4;
//	    InverterData inverter_data = 5;
//	  }
//	}
//
//	message APPSData {
//	  APPSState state = 1;
//	  float current_throttle_percentage = 2;
//	  float current_motor_current = 3;
//	  uint32 current_motor_rpm = 4;
//	}
//
//	message BMSSegmentData {
//	  float buck_converter_rail_voltage = 1;
//	  uint32 connected_cell_tap_bitset = 2;
//	  uint32 degraded_cell_tap_bitset = 3;
//	  uint32 connected_thermistor_bitset = 4;
//	  repeated float cell_voltages = 5;
//	  repeated float temperatures = 6;
//	}
//
//	message BMSData {
//	  bool shutdown_activated = 1;
//	  ShutdownReason shutdown_reason = 2;
//	  float measured_lvs_12v_rail = 3;
//	  float positive_current = 4;
//	  float negative_current = 5;
//	  repeated BMSSegmentData segments = 6;
//	}
//
//	message InverterData {
//	  FaultCode fault_code = 1;
//	  int32 erpm = 2;
//	  float duty_cycle = 3;
//	  float input_dc_voltage = 4;
//	  float ac_motor_current = 5;
//	  float dc_battery_current = 6;
//	  float controller_temperature = 7;
//	  float motor_temperature = 8;
//	  bool drive_enabled = 9;
//	  InverterLimitStates limit_states = 10;
//	}
//
//	message InverterLimitStates {
//	  bool capacitor_temperature = 1;
//	  bool dc_current_limit = 2;
//	  bool drive_enable_limit = 3;
//	  bool igbt_acceleration_limit = 4;
//	  bool igbt_temperature_limit = 5;
//	  bool input_voltage_limit = 6;
//	  bool motor_acceleration_temperature_limit = 7;
//	  bool motor_temperature_limit = 8;
//	  bool rpm_minimum_limit = 9;
//	  bool rpm_maximum_limit = 10;
//	  bool power_limit = 11;
//	}
package wire

import "google.golang.org/protobuf/encoding/protowire"

// TelemetryPacket fields.
const (
	fieldPacketType      protowire.Number = 1
	fieldPacketTimestamp protowire.Number = 2
	fieldPacketAPPS      protowire.Number = 3
	fieldPacketBMS       protowire.Number = 4
	fieldPacketInverter  protowire.Number = 5
)

// APPSData fields.
const (
	fieldAPPSState    protowire.Number = 1
	fieldAPPSThrottle protowire.Number = 2
	fieldAPPSCurrent  protowire.Number = 3
	fieldAPPSRPM      protowire.Number = 4
)

// BMSSegmentData fields.
const (
	fieldSegBuckRail     protowire.Number = 1
	fieldSegCellTaps     protowire.Number = 2
	fieldSegDegraded     protowire.Number = 3
	fieldSegThermistors  protowire.Number = 4
	fieldSegCellVoltages protowire.Number = 5
	fieldSegTemperatures protowire.Number = 6
)

// BMSData fields.
const (
	fieldBMSShutdown       protowire.Number = 1
	fieldBMSShutdownReason protowire.Number = 2
	fieldBMSLVSRail        protowire.Number = 3
	fieldBMSPositive       protowire.Number = 4
	fieldBMSNegative       protowire.Number = 5
	fieldBMSSegments       protowire.Number = 6
)

// InverterData fields.
const (
	fieldInvFault        protowire.Number = 1
	fieldInvERPM         protowire.Number = 2
	fieldInvDuty         protowire.Number = 3
	fieldInvInputV       protowire.Number = 4
	fieldInvACCurrent    protowire.Number = 5
	fieldInvDCCurrent    protowire.Number = 6
	fieldInvControllerC  protowire.Number = 7
	fieldInvMotorC       protowire.Number = 8
	fieldInvDriveEnabled protowire.Number = 9
	fieldInvLimits       protowire.Number = 10
)

// InverterLimitStates has eleven bool fields numbered 1..11 in the order of
// model.LimitStates.
const numLimitFields = 11
