package charge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

var known = vehicle.Known

func cruising() *vehicle.Snapshot {
	return &vehicle.Snapshot{
		Vehicle: vehicle.Vehicle{Speed: known(85), RPM: known(2750), Coolant: known(88)},
		Charger: vehicle.Charger{
			TempT1:         known(45),
			TempT2:         known(50),
			TempAmbient:    known(30),
			BatteryVoltage: known(27.4),
			Fault:          known(0),
			Alarm:          known(0),
		},
	}
}

func TestDecideFullRate(t *testing.T) {
	d := Decide(cruising(), vehicle.Unknown)
	assert.Equal(t, Decision{TargetAmps: 30, Safe: true, Reason: "full rate", Commit: true}, d)
}

func TestDecideLowBatteryIsReduced(t *testing.T) {
	s := cruising()
	s.Charger.BatteryVoltage = known(23.9)

	d := Decide(s, known(30))
	assert.False(t, d.Safe)
	assert.Equal(t, 12.0, d.TargetAmps)
	assert.True(t, d.Commit)
}

func TestDecideUnsafeConditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*vehicle.Charger)
	}{
		{"hot T1", func(c *vehicle.Charger) { c.TempT1 = known(81) }},
		{"hot T2", func(c *vehicle.Charger) { c.TempT2 = known(95) }},
		{"hot ambient", func(c *vehicle.Charger) { c.TempAmbient = known(80.5) }},
		{"over voltage", func(c *vehicle.Charger) { c.BatteryVoltage = known(29.7) }},
		{"fault bit", func(c *vehicle.Charger) { c.Fault = known(0x0041) }},
		{"alarm bit", func(c *vehicle.Charger) { c.Alarm = known(0x0002) }},
		// Missing telemetry is treated as unsafe rather than as zero.
		{"unknown temp", func(c *vehicle.Charger) { c.TempT2 = vehicle.Unknown }},
		{"unknown voltage", func(c *vehicle.Charger) { c.BatteryVoltage = vehicle.Unknown }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := cruising()
			tt.mutate(&s.Charger)
			d := Decide(s, vehicle.Unknown)
			assert.False(t, d.Safe)
			assert.Equal(t, 12.0, d.TargetAmps)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecideBoundaries(t *testing.T) {
	s := cruising()
	s.Charger.TempT1 = known(80)
	s.Charger.BatteryVoltage = known(24.0)
	s.Charger.Fault = known(0x0080)
	s.Charger.Alarm = known(0x0004)
	s.Vehicle.Coolant = known(60)
	assert.Equal(t, 30.0, Decide(s, vehicle.Unknown).TargetAmps)

	s.Vehicle.Coolant = known(100)
	s.Charger.BatteryVoltage = known(29.6)
	assert.Equal(t, 30.0, Decide(s, vehicle.Unknown).TargetAmps)

	s.Vehicle.Speed = known(30)
	assert.Equal(t, 12.0, Decide(s, vehicle.Unknown).TargetAmps)
}

func TestDecideNotCruising(t *testing.T) {
	for name, mutate := range map[string]func(*vehicle.Vehicle){
		"idle":          func(v *vehicle.Vehicle) { v.RPM = known(800) },
		"cold":          func(v *vehicle.Vehicle) { v.Coolant = known(40) },
		"overheating":   func(v *vehicle.Vehicle) { v.Coolant = known(105) },
		"unknown speed": func(v *vehicle.Vehicle) { v.Speed = vehicle.Unknown },
	} {
		s := cruising()
		mutate(&s.Vehicle)
		d := Decide(s, vehicle.Unknown)
		assert.True(t, d.Safe, name)
		assert.Equal(t, 12.0, d.TargetAmps, name)
	}
}

func TestDecideHysteresis(t *testing.T) {
	s := cruising()
	first := Decide(s, vehicle.Unknown)
	assert.True(t, first.Commit)

	second := Decide(s, known(first.TargetAmps))
	assert.False(t, second.Commit)
	assert.Equal(t, first.TargetAmps, second.TargetAmps)
}

func TestDecideWithOverride(t *testing.T) {
	l := DefaultLimits()

	d := l.DecideWithOverride(cruising(), vehicle.Unknown, known(20))
	assert.Equal(t, 20.0, d.TargetAmps)
	assert.Equal(t, "manual override", d.Reason)

	assert.Equal(t, 30.0, l.DecideWithOverride(cruising(), vehicle.Unknown, known(55)).TargetAmps)
	assert.Equal(t, 0.0, l.DecideWithOverride(cruising(), vehicle.Unknown, known(-3)).TargetAmps)

	hot := cruising()
	hot.Charger.TempT1 = known(90)
	d = l.DecideWithOverride(hot, vehicle.Unknown, known(25))
	assert.False(t, d.Safe)
	assert.Equal(t, 12.0, d.TargetAmps)
}

func TestCustomLimits(t *testing.T) {
	l := DefaultLimits()
	l.FullAmps = 40
	l.MaxBatteryV = 14.8
	l.MinBatteryV = 11.5

	s := cruising()
	s.Charger.BatteryVoltage = known(13.8)
	assert.Equal(t, 40.0, l.Decide(s, known(12)).TargetAmps)
}
