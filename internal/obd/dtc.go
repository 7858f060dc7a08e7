package obd

import (
	"fmt"
	"strings"
)

var dtcCategories = [4]byte{'P', 'C', 'B', 'U'}

const hexDigits = "0123456789ABCDEF"

// DecodeDTC turns a two-byte trouble-code pair into its five character
// form. The pair (0x00, 0x00) is padding and reports ok == false.
func DecodeDTC(hi, lo byte) (code string, ok bool) {
	if hi == 0 && lo == 0 {
		return "", false
	}
	b := [5]byte{
		dtcCategories[hi>>6],
		'0' + (hi>>4)&0x03,
		hexDigits[hi&0x0F],
		hexDigits[lo>>4],
		hexDigits[lo&0x0F],
	}
	return string(b[:]), true
}

// EncodeDTC is the inverse of DecodeDTC.
func EncodeDTC(code string) (hi, lo byte, err error) {
	if len(code) != 5 {
		return 0, 0, fmt.Errorf("obd: trouble code %q: want 5 characters", code)
	}
	cat := strings.IndexByte(string(dtcCategories[:]), code[0])
	if cat < 0 {
		return 0, 0, fmt.Errorf("obd: trouble code %q: bad category %q", code, code[0])
	}
	if code[1] < '0' || code[1] > '3' {
		return 0, 0, fmt.Errorf("obd: trouble code %q: second digit out of range", code)
	}
	var n [3]byte
	for i := range n {
		d := strings.IndexByte(hexDigits, code[2+i])
		if d < 0 {
			return 0, 0, fmt.Errorf("obd: trouble code %q: bad digit %q", code, code[2+i])
		}
		n[i] = byte(d)
	}
	hi = byte(cat)<<6 | (code[1]-'0')<<4 | n[0]
	lo = n[1]<<4 | n[2]
	return hi, lo, nil
}

var dtcDescriptions = map[string]string{
	"P0100": "MAF Circuit Malfunction",
	"P0101": "MAF Circuit Range/Performance",
	"P0102": "MAF Circuit Low Input",
	"P0110": "Intake Air Temp Circuit Malfunction",
	"P0115": "Engine Coolant Temp Circuit Malfunction",
	"P0120": "Throttle Position Sensor Malfunction",
	"P0130": "O2 Sensor Circuit B1S1",
	"P0131": "O2 Sensor Low Voltage B1S1",
	"P0133": "O2 Sensor Slow Response B1S1",
	"P0135": "O2 Sensor Heater Circuit B1S1",
	"P0171": "System Too Lean Bank 1",
	"P0172": "System Too Rich Bank 1",
	"P0174": "System Too Lean Bank 2",
	"P0175": "System Too Rich Bank 2",
	"P0300": "Random/Multiple Cylinder Misfire",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0302": "Cylinder 2 Misfire Detected",
	"P0303": "Cylinder 3 Misfire Detected",
	"P0304": "Cylinder 4 Misfire Detected",
	"P0305": "Cylinder 5 Misfire Detected",
	"P0306": "Cylinder 6 Misfire Detected",
	"P0325": "Knock Sensor 1 Circuit",
	"P0335": "Crankshaft Position Sensor A Circuit",
	"P0340": "Camshaft Position Sensor Circuit",
	"P0400": "EGR Flow Malfunction",
	"P0401": "EGR Insufficient Flow",
	"P0420": "Catalyst Efficiency Below Threshold B1",
	"P0421": "Warm Up Catalyst Efficiency Below Threshold B1",
	"P0430": "Catalyst Efficiency Below Threshold B2",
	"P0440": "Evap System Malfunction",
	"P0441": "Evap System Incorrect Purge Flow",
	"P0442": "Evap System Small Leak Detected",
	"P0443": "Evap System Purge Control Valve Circuit",
	"P0446": "Evap System Vent Control Circuit",
	"P0455": "Evap System Large Leak Detected",
	"P0500": "Vehicle Speed Sensor Malfunction",
	"P0505": "Idle Air Control System",
	"P0507": "Idle Air Control RPM Higher Than Expected",
	"P0562": "System Voltage Low",
	"P0563": "System Voltage High",
	"P0600": "Serial Communication Link",
	"P0700": "Transmission Control System",
	"P0715": "Input/Turbine Speed Sensor Circuit",
	"P0720": "Output Speed Sensor Circuit",
	"P0730": "Incorrect Gear Ratio",
	"P0741": "Torque Converter Clutch Stuck Off",
	"P1000": "OBD II Monitor Testing Not Complete",
}

// Describe returns a short description for common codes.
func Describe(code string) string {
	if d, ok := dtcDescriptions[code]; ok {
		return d
	}
	return "Unknown Code"
}
