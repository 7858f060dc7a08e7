// Package charge decides the charger current from a vehicle snapshot.
package charge

import (
	"fmt"
	"math"

	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

// Limits are the thresholds of the charge decision.
type Limits struct {
	FullAmps    float64 `yaml:"full_amps" json:"fullAmps"`
	ReducedAmps float64 `yaml:"reduced_amps" json:"reducedAmps"`

	MaxTempC    float64 `yaml:"max_temp_c" json:"maxTempC"` // charger T1, T2 and ambient
	MinBatteryV float64 `yaml:"min_battery_v" json:"minBatteryV"`
	MaxBatteryV float64 `yaml:"max_battery_v" json:"maxBatteryV"`
	FaultMask   uint16  `yaml:"fault_mask" json:"faultMask"`
	AlarmMask   uint16  `yaml:"alarm_mask" json:"alarmMask"`

	// Full rate needs the engine running at cruise and warmed up.
	MinSpeedKmh float64 `yaml:"min_speed_kmh" json:"minSpeedKmh"`
	MinRPM      float64 `yaml:"min_rpm" json:"minRpm"`
	MinCoolantC float64 `yaml:"min_coolant_c" json:"minCoolantC"`
	MaxCoolantC float64 `yaml:"max_coolant_c" json:"maxCoolantC"`
}

// DefaultLimits returns the limits for the 24 V house battery charger.
func DefaultLimits() Limits {
	return Limits{
		FullAmps:    30,
		ReducedAmps: 12,
		MaxTempC:    80,
		MinBatteryV: 24.0,
		MaxBatteryV: 29.6,
		FaultMask:   0x0040,
		AlarmMask:   0x0003,
		MinSpeedKmh: 30,
		MinRPM:      1000,
		MinCoolantC: 60,
		MaxCoolantC: 100,
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	TargetAmps float64 `json:"targetAmps"`
	Safe       bool    `json:"safe"`
	Reason     string  `json:"reason"`
	Commit     bool    `json:"commit"` // target differs from the last committed setpoint
}

// Decide evaluates s with the default limits.
func Decide(s *vehicle.Snapshot, lastCommitted vehicle.Reading) Decision {
	return DefaultLimits().Decide(s, lastCommitted)
}

// Decide picks the full or reduced charge rate for s.
func (l Limits) Decide(s *vehicle.Snapshot, lastCommitted vehicle.Reading) Decision {
	return l.DecideWithOverride(s, lastCommitted, vehicle.Unknown)
}

// DecideWithOverride is Decide with a manual setpoint. A valid override
// replaces the computed target while the charger is safe and is clamped
// to [0, FullAmps]. An unsafe charger always gets the reduced rate.
func (l Limits) DecideWithOverride(s *vehicle.Snapshot, lastCommitted, override vehicle.Reading) Decision {
	d := Decision{TargetAmps: l.ReducedAmps}
	d.Safe, d.Reason = l.safe(s.Charger)

	switch {
	case !d.Safe:
	case override.Valid:
		d.TargetAmps = math.Min(math.Max(override.Value, 0), l.FullAmps)
		d.Reason = "manual override"
	case l.cruising(s.Vehicle):
		d.TargetAmps = l.FullAmps
		d.Reason = "full rate"
	default:
		d.Reason = "engine not at cruise"
	}

	d.Commit = !lastCommitted.Valid || lastCommitted.Value != d.TargetAmps
	return d
}

// safe checks the charger; any unknown input counts as unsafe.
func (l Limits) safe(c vehicle.Charger) (bool, string) {
	inputs := []struct {
		name string
		r    vehicle.Reading
	}{
		{"temp T1", c.TempT1},
		{"temp T2", c.TempT2},
		{"ambient temp", c.TempAmbient},
		{"battery voltage", c.BatteryVoltage},
		{"fault word", c.Fault},
		{"alarm word", c.Alarm},
	}
	for _, in := range inputs {
		if !in.r.Valid {
			return false, in.name + " unknown"
		}
	}

	for _, in := range inputs[:3] {
		if in.r.Value > l.MaxTempC {
			return false, fmt.Sprintf("%s %.0f C over %.0f C", in.name, in.r.Value, l.MaxTempC)
		}
	}
	if v := c.BatteryVoltage.Value; v < l.MinBatteryV || v > l.MaxBatteryV {
		return false, fmt.Sprintf("battery voltage %.2f V outside %.1f-%.1f V", v, l.MinBatteryV, l.MaxBatteryV)
	}
	if uint16(c.Fault.Value)&l.FaultMask != 0 {
		return false, "over-temperature fault"
	}
	if uint16(c.Alarm.Value)&l.AlarmMask != 0 {
		return false, "derating alarm"
	}
	return true, ""
}

func (l Limits) cruising(v vehicle.Vehicle) bool {
	return v.Speed.Valid && v.Speed.Value > l.MinSpeedKmh &&
		v.RPM.Valid && v.RPM.Value > l.MinRPM &&
		v.Coolant.Valid && v.Coolant.Value >= l.MinCoolantC && v.Coolant.Value <= l.MaxCoolantC
}
