package charger

import "github.com/shaunagostinho/dashbridge/internal/codec"

// Register is one entry of the charger's register map.
type Register struct {
	Addr   uint16
	Name   string
	Scale  float64
	Signed bool
}

// Decode converts a raw register value to engineering units.
func (r Register) Decode(raw uint16) float64 {
	if r.Signed {
		return float64(codec.Signed16(raw)) * r.Scale
	}
	return codec.Affine(uint32(raw), r.Scale, 0)
}

var (
	InputVoltage   = Register{0x0200, "input_voltage", 0.01, false}
	InputCurrent   = Register{0x0201, "input_current", 0.01, false}
	BatteryVoltage = Register{0x0203, "battery_voltage", 0.01, false}
	BatteryCurrent = Register{0x0204, "battery_current", 0.01, false}
	TempT1         = Register{0x0206, "temp_t1", 1, true}
	TempT2         = Register{0x0207, "temp_t2", 1, true}
	FaultWord      = Register{0x020A, "fault", 1, false}
	AlarmWord      = Register{0x020B, "alarm", 1, false}
	TempAmbient    = Register{0x020E, "temp_ambient", 1, true}
	StatusWord     = Register{0x020F, "status", 1, false}
)

// SetCurrentAddr is the write-only charge current setpoint, in 0.01 A.
const SetCurrentAddr uint16 = 0x081E

// Fault and alarm bits the charge controller cares about.
const (
	FaultOverTemp uint16 = 0x0040
	AlarmDerating uint16 = 0x0003
)

// Registers lists the telemetry registers in polling order.
func Registers() []Register {
	return []Register{
		InputVoltage, InputCurrent,
		BatteryVoltage, BatteryCurrent,
		TempT1, TempT2, TempAmbient,
		FaultWord, AlarmWord, StatusWord,
	}
}
