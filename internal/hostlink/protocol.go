package hostlink

import (
	"encoding/json"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

type obdLine struct {
	Speed          vehicle.Reading `json:"spd"`
	RPM            vehicle.Reading `json:"rpm"`
	Coolant        vehicle.Reading `json:"ect"`
	Throttle       vehicle.Reading `json:"thr"`
	Load           vehicle.Reading `json:"load"`
	FuelRate       vehicle.Reading `json:"fuel_rate"`
	FuelLevel      vehicle.Reading `json:"fuel_lvl"`
	MAF            vehicle.Reading `json:"maf"`
	IntakeAirTemp  vehicle.Reading `json:"iat"`
	OilTemp        vehicle.Reading `json:"oil_t"`
	TimingAdvance  vehicle.Reading `json:"timing"`
	O2Voltage      vehicle.Reading `json:"o2v"`
	FuelPressure   vehicle.Reading `json:"fuel_p"`
	AmbientAirTemp vehicle.Reading `json:"amb_air"`
}

type chargerLine struct {
	Volts    vehicle.Reading `json:"v"`
	Amps     vehicle.Reading `json:"a"`
	Setpoint vehicle.Reading `json:"set"`
	T1       vehicle.Reading `json:"t1"`
	T2       vehicle.Reading `json:"t2"`
	Ambient  vehicle.Reading `json:"amb"`
	Rate     float64         `json:"rate"`
	Fault    vehicle.Reading `json:"fault"`
	Alarm    vehicle.Reading `json:"alarm"`
	Status   vehicle.Reading `json:"status"`
}

type stateLine struct {
	OBD   obdLine     `json:"obd"`
	Chg   chargerLine `json:"chg"`
	DTC   []string    `json:"dtc,omitempty"`
	CAN   bool        `json:"can"`
	RS485 bool        `json:"rs485"`
	TS    int64       `json:"ts"`
}

// EncodeState renders st as one protocol line including the newline.
// Unknown values are sent as null.
func EncodeState(st *bridge.State) ([]byte, error) {
	s := st.Snapshot
	v, c := s.Vehicle, s.Charger
	line := stateLine{
		OBD: obdLine{
			Speed:          v.Speed,
			RPM:            v.RPM,
			Coolant:        v.Coolant,
			Throttle:       v.Throttle,
			Load:           v.Load,
			FuelRate:       v.FuelRate,
			FuelLevel:      v.FuelLevel,
			MAF:            v.MAF,
			IntakeAirTemp:  v.IntakeAirTemp,
			OilTemp:        v.OilTemp,
			TimingAdvance:  v.TimingAdvance,
			O2Voltage:      v.O2Voltage,
			FuelPressure:   v.FuelPressure,
			AmbientAirTemp: v.AmbientAirTemp,
		},
		Chg: chargerLine{
			Volts:    c.BatteryVoltage,
			Amps:     c.BatteryCurrent,
			Setpoint: st.Committed,
			T1:       c.TempT1,
			T2:       c.TempT2,
			Ambient:  c.TempAmbient,
			Rate:     st.Decision.TargetAmps,
			Fault:    c.Fault,
			Alarm:    c.Alarm,
			Status:   c.Status,
		},
		DTC:   s.Codes.Stored,
		CAN:   s.CANAlive,
		RS485: s.RegisterAlive,
		TS:    s.At.UnixMilli(),
	}
	b, err := json.Marshal(line)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func encodeReply(r bridge.Reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(bridge.Reply{"error": err.Error()})
	}
	return append(b, '\n')
}
