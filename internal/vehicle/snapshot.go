package vehicle

import (
	"time"

	"github.com/shaunagostinho/dashbridge/internal/obd"
)

// Vehicle holds the live OBD-II signals.
type Vehicle struct {
	Speed          Reading `json:"speed"`          // km/h
	RPM            Reading `json:"rpm"`            // rpm
	Coolant        Reading `json:"coolant"`        // °C
	Throttle       Reading `json:"throttle"`       // %
	Load           Reading `json:"load"`           // %
	FuelRate       Reading `json:"fuelRate"`       // L/h
	FuelLevel      Reading `json:"fuelLevel"`      // %
	MAF            Reading `json:"maf"`            // g/s
	IntakeAirTemp  Reading `json:"iat"`            // °C
	OilTemp        Reading `json:"oilTemp"`        // °C
	TimingAdvance  Reading `json:"timingAdvance"`  // deg
	O2Voltage      Reading `json:"o2Voltage"`      // V, bank 1 sensor 1
	FuelPressure   Reading `json:"fuelPressure"`   // kPa
	AmbientAirTemp Reading `json:"ambientAirTemp"` // °C
}

// Charger holds the charger telemetry registers.
type Charger struct {
	InputVoltage   Reading `json:"inputVoltage"`   // V
	InputCurrent   Reading `json:"inputCurrent"`   // A
	BatteryVoltage Reading `json:"batteryVoltage"` // V
	BatteryCurrent Reading `json:"batteryCurrent"` // A
	TempT1         Reading `json:"tempT1"`         // °C
	TempT2         Reading `json:"tempT2"`         // °C
	TempAmbient    Reading `json:"tempAmbient"`    // °C
	Fault          Reading `json:"fault"`          // fault bit word
	Alarm          Reading `json:"alarm"`          // alarm bit word
	Status         Reading `json:"status"`         // status word
}

// Codes carries the results of the most recent trouble-code scans.
type Codes struct {
	Stored    []string       `json:"stored"`
	Pending   []string       `json:"pending"`
	ScannedAt time.Time      `json:"scannedAt"`
	MIL       *obd.MILStatus `json:"mil,omitempty"`
}

// Snapshot is one complete, immutable view of the vehicle and charger.
// Snapshots are built whole by the Aggregator and never modified after
// PollCycle returns them.
type Snapshot struct {
	Seq           uint64    `json:"seq"`
	At            time.Time `json:"at"`
	Vehicle       Vehicle   `json:"vehicle"`
	Charger       Charger   `json:"charger"`
	Codes         Codes     `json:"codes"`
	CANAlive      bool      `json:"canAlive"`
	RegisterAlive bool      `json:"rs485Alive"`
}

// Field is a named reading, used by exporters that iterate signals.
type Field struct {
	Name    string
	Reading Reading
}

// Fields lists the vehicle signals in a stable order.
func (v Vehicle) Fields() []Field {
	return []Field{
		{"speed", v.Speed},
		{"rpm", v.RPM},
		{"coolant", v.Coolant},
		{"throttle", v.Throttle},
		{"load", v.Load},
		{"fuel_rate", v.FuelRate},
		{"fuel_level", v.FuelLevel},
		{"maf", v.MAF},
		{"iat", v.IntakeAirTemp},
		{"oil_temp", v.OilTemp},
		{"timing_advance", v.TimingAdvance},
		{"o2_voltage", v.O2Voltage},
		{"fuel_pressure", v.FuelPressure},
		{"ambient_air_temp", v.AmbientAirTemp},
	}
}

// Fields lists the charger registers in a stable order.
func (c Charger) Fields() []Field {
	return []Field{
		{"input_voltage", c.InputVoltage},
		{"input_current", c.InputCurrent},
		{"battery_voltage", c.BatteryVoltage},
		{"battery_current", c.BatteryCurrent},
		{"temp_t1", c.TempT1},
		{"temp_t2", c.TempT2},
		{"temp_ambient", c.TempAmbient},
		{"fault", c.Fault},
		{"alarm", c.Alarm},
		{"status", c.Status},
	}
}
