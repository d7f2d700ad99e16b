// Package obd2 holds the Mode 01 PID decode formulas for the built-in
// Standard Vehicle Poll Series, carried over from rzetterberg/elmobd's
// parameter decoders (RPM, speed, coolant temp, engine load, ...) as plain
// decode functions: this stack's own ISO-TP layer owns transport, elmobd's
// Device and serial plumbing are not used, only its PID math.
package obd2

// Mode 01 PIDs this series polls.
const (
	PIDEngineLoad   uint16 = 0x04
	PIDCoolantTemp  uint16 = 0x05
	PIDFuelPressure uint16 = 0x0A
	PIDIntakeMAP    uint16 = 0x0B
	PIDRPM          uint16 = 0x0C
	PIDSpeed        uint16 = 0x0D
	PIDIntakeTemp   uint16 = 0x0F
	PIDMAF          uint16 = 0x10
	PIDThrottlePos  uint16 = 0x11
)

// Decode evaluates the data bytes following the Mode/PID echo (A, B, ...)
// for a known PID. ok is false for a PID this package does not decode.
func Decode(pid uint16, data []byte) (value float64, ok bool) {
	switch pid {
	case PIDRPM:
		if len(data) < 2 {
			return 0, false
		}
		return float64(uint16(data[0])<<8|uint16(data[1])) / 4, true
	case PIDSpeed:
		if len(data) < 1 {
			return 0, false
		}
		return float64(data[0]), true
	case PIDCoolantTemp, PIDIntakeTemp:
		if len(data) < 1 {
			return 0, false
		}
		return float64(data[0]) - 40, true
	case PIDEngineLoad, PIDThrottlePos:
		if len(data) < 1 {
			return 0, false
		}
		return float64(data[0]) * 100 / 255, true
	case PIDMAF:
		if len(data) < 2 {
			return 0, false
		}
		return float64(uint16(data[0])<<8|uint16(data[1])) / 100, true
	case PIDFuelPressure:
		if len(data) < 1 {
			return 0, false
		}
		return float64(data[0]) * 3, true
	case PIDIntakeMAP:
		if len(data) < 1 {
			return 0, false
		}
		return float64(data[0]), true
	default:
		return 0, false
	}
}

// Name returns a short identifier for a known PID, used for alert/telemetry
// labeling; empty for an unknown PID.
func Name(pid uint16) string {
	switch pid {
	case PIDRPM:
		return "rpm"
	case PIDSpeed:
		return "speed"
	case PIDCoolantTemp:
		return "coolant_temp"
	case PIDIntakeTemp:
		return "intake_temp"
	case PIDEngineLoad:
		return "engine_load"
	case PIDThrottlePos:
		return "throttle_pos"
	case PIDMAF:
		return "maf"
	case PIDFuelPressure:
		return "fuel_pressure"
	case PIDIntakeMAP:
		return "intake_map"
	default:
		return ""
	}
}
