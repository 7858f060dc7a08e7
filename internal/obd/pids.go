package obd

import "github.com/shaunagostinho/dashbridge/internal/codec"

// PID describes one Mode 01 live-data signal.
type PID struct {
	Code   byte    `json:"pid"`
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Width  int     `json:"bytes"` // response data bytes: 1, 2 or 4
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
	Min    float64 `json:"min"` // display range
	Max    float64 `json:"max"`
}

// Decode applies the descriptor's scale and offset to a raw value.
func (p PID) Decode(raw uint32) float64 {
	return codec.Affine(raw, p.Scale, p.Offset)
}

// Codes of the PIDs the bridge polls every cycle.
const (
	PIDEngineLoad     byte = 0x04
	PIDCoolantTemp    byte = 0x05
	PIDFuelPressure   byte = 0x0A
	PIDRPM            byte = 0x0C
	PIDSpeed          byte = 0x0D
	PIDTimingAdvance  byte = 0x0E
	PIDIntakeAirTemp  byte = 0x0F
	PIDMAF            byte = 0x10
	PIDThrottle       byte = 0x11
	PIDO2B1S1         byte = 0x14
	PIDFuelLevel      byte = 0x2F
	PIDAmbientAirTemp byte = 0x46
	PIDOilTemp        byte = 0x5C
	PIDFuelRate       byte = 0x5E

	// PIDMonitorStatus is read by the trouble-code service for MIL state.
	PIDMonitorStatus byte = 0x01
)

var mode01 = [...]PID{
	// Engine
	{0x04, "Engine Load", "%", 1, 0.3922, 0, 0, 100},
	{0x05, "Coolant Temp", "C", 1, 1, -40, -40, 215},
	{0x0B, "Intake MAP", "kPa", 1, 1, 0, 0, 255},
	{0x0C, "Engine RPM", "rpm", 2, 0.25, 0, 0, 16383},
	{0x0D, "Vehicle Speed", "km/h", 1, 1, 0, 0, 255},
	{0x0E, "Timing Advance", "deg", 1, 0.5, -64, -64, 63.5},
	{0x0F, "Intake Air Temp", "C", 1, 1, -40, -40, 215},
	{0x10, "MAF Air Flow", "g/s", 2, 0.01, 0, 0, 655.35},
	{0x11, "Throttle Position", "%", 1, 0.3922, 0, 0, 100},

	// Fuel system
	{0x06, "Short Fuel Trim B1", "%", 1, 0.7813, -100, -100, 99.2},
	{0x07, "Long Fuel Trim B1", "%", 1, 0.7813, -100, -100, 99.2},
	{0x08, "Short Fuel Trim B2", "%", 1, 0.7813, -100, -100, 99.2},
	{0x09, "Long Fuel Trim B2", "%", 1, 0.7813, -100, -100, 99.2},
	{0x0A, "Fuel Pressure", "kPa", 1, 3, 0, 0, 765},
	{0x2F, "Fuel Level", "%", 1, 0.3922, 0, 0, 100},
	{0x51, "Fuel Type", "", 1, 1, 0, 0, 23},

	// O2 sensors: voltage is byte A / 200, byte B (trim) adds under 5 mV.
	{0x14, "O2 B1S1 Voltage", "V", 2, 0.005 / 256, 0, 0, 1.275},
	{0x15, "O2 B1S2 Voltage", "V", 2, 0.005 / 256, 0, 0, 1.275},
	{0x16, "O2 B1S3 Voltage", "V", 2, 0.005 / 256, 0, 0, 1.275},
	{0x17, "O2 B1S4 Voltage", "V", 2, 0.005 / 256, 0, 0, 1.275},
	{0x18, "O2 B2S1 Voltage", "V", 2, 0.005 / 256, 0, 0, 1.275},
	{0x19, "O2 B2S2 Voltage", "V", 2, 0.005 / 256, 0, 0, 1.275},

	// Emissions
	{0x1C, "OBD Standard", "", 1, 1, 0, 0, 255},
	{0x1F, "Run Time", "sec", 2, 1, 0, 0, 65535},
	{0x21, "Dist w/ MIL On", "km", 2, 1, 0, 0, 65535},
	{0x2C, "Commanded EGR", "%", 1, 0.3922, 0, 0, 100},
	{0x2D, "EGR Error", "%", 1, 0.7813, -100, -100, 99.2},
	{0x2E, "Commanded Evap Purge", "%", 1, 0.3922, 0, 0, 100},
	{0x30, "Warmups Since Clear", "", 1, 1, 0, 0, 255},
	{0x31, "Dist Since Clear", "km", 2, 1, 0, 0, 65535},
	{0x33, "Baro Pressure", "kPa", 1, 1, 0, 0, 255},

	// Catalyst
	{0x3C, "Cat Temp B1S1", "C", 2, 0.1, -40, -40, 6513.5},
	{0x3D, "Cat Temp B2S1", "C", 2, 0.1, -40, -40, 6513.5},
	{0x3E, "Cat Temp B1S2", "C", 2, 0.1, -40, -40, 6513.5},
	{0x3F, "Cat Temp B2S2", "C", 2, 0.1, -40, -40, 6513.5},

	// Control module
	{0x42, "Control Module V", "V", 2, 0.001, 0, 0, 65.535},
	{0x43, "Abs Load Value", "%", 2, 0.3922, 0, 0, 25700},
	{0x44, "Cmd Equiv Ratio", "", 2, 0.0000305, 0, 0, 2},
	{0x45, "Rel Throttle Pos", "%", 1, 0.3922, 0, 0, 100},
	{0x46, "Ambient Air Temp", "C", 1, 1, -40, -40, 215},
	{0x47, "Abs Throttle B", "%", 1, 0.3922, 0, 0, 100},
	{0x48, "Abs Throttle C", "%", 1, 0.3922, 0, 0, 100},
	{0x49, "Accel Pedal D", "%", 1, 0.3922, 0, 0, 100},
	{0x4A, "Accel Pedal E", "%", 1, 0.3922, 0, 0, 100},
	{0x4C, "Cmd Throttle", "%", 1, 0.3922, 0, 0, 100},
	{0x4D, "Time w/ MIL On", "min", 2, 1, 0, 0, 65535},
	{0x4E, "Time Since Clear", "min", 2, 1, 0, 0, 65535},

	// Hybrid / EV
	{0x5B, "Hybrid Batt Pack Life", "%", 1, 0.3922, 0, 0, 100},
	{0x5C, "Engine Oil Temp", "C", 1, 1, -40, -40, 210},
	{0x5E, "Fuel Rate", "L/h", 2, 0.05, 0, 0, 3276.75},
}

var byCode = func() map[byte]int {
	m := make(map[byte]int, len(mode01))
	for i, p := range mode01 {
		m[p.Code] = i
	}
	return m
}()

// Lookup returns the descriptor for code.
func Lookup(code byte) (PID, bool) {
	i, ok := byCode[code]
	if !ok {
		return PID{}, false
	}
	return mode01[i], true
}

// PIDs returns a copy of the descriptor table in table order.
func PIDs() []PID {
	out := make([]PID, len(mode01))
	copy(out, mode01[:])
	return out
}
