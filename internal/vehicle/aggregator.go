package vehicle

import (
	"time"

	"github.com/shaunagostinho/dashbridge/internal/charger"
	"github.com/shaunagostinho/dashbridge/internal/obd"
)

// PIDQuerier reads one live-data PID. Satisfied by *obd.Client.
type PIDQuerier interface {
	Query(pid byte, width int, timeout time.Duration) (float64, error)
}

// RegisterReader reads one charger register. Satisfied by *charger.Client.
type RegisterReader interface {
	ReadRegister(addr uint16) (uint16, error)
}

type vehicleSignal struct {
	pid   byte
	field func(*Vehicle) *Reading
}

type chargerSignal struct {
	reg   charger.Register
	field func(*Charger) *Reading
}

// Polling order. All CAN exchanges run before any register exchange.
var vehicleSignals = []vehicleSignal{
	{obd.PIDRPM, func(v *Vehicle) *Reading { return &v.RPM }},
	{obd.PIDSpeed, func(v *Vehicle) *Reading { return &v.Speed }},
	{obd.PIDCoolantTemp, func(v *Vehicle) *Reading { return &v.Coolant }},
	{obd.PIDThrottle, func(v *Vehicle) *Reading { return &v.Throttle }},
	{obd.PIDEngineLoad, func(v *Vehicle) *Reading { return &v.Load }},
	{obd.PIDFuelRate, func(v *Vehicle) *Reading { return &v.FuelRate }},
	{obd.PIDFuelLevel, func(v *Vehicle) *Reading { return &v.FuelLevel }},
	{obd.PIDMAF, func(v *Vehicle) *Reading { return &v.MAF }},
	{obd.PIDIntakeAirTemp, func(v *Vehicle) *Reading { return &v.IntakeAirTemp }},
	{obd.PIDOilTemp, func(v *Vehicle) *Reading { return &v.OilTemp }},
	{obd.PIDTimingAdvance, func(v *Vehicle) *Reading { return &v.TimingAdvance }},
	{obd.PIDO2B1S1, func(v *Vehicle) *Reading { return &v.O2Voltage }},
	{obd.PIDFuelPressure, func(v *Vehicle) *Reading { return &v.FuelPressure }},
	{obd.PIDAmbientAirTemp, func(v *Vehicle) *Reading { return &v.AmbientAirTemp }},
}

var chargerSignals = []chargerSignal{
	{charger.InputVoltage, func(c *Charger) *Reading { return &c.InputVoltage }},
	{charger.InputCurrent, func(c *Charger) *Reading { return &c.InputCurrent }},
	{charger.BatteryVoltage, func(c *Charger) *Reading { return &c.BatteryVoltage }},
	{charger.BatteryCurrent, func(c *Charger) *Reading { return &c.BatteryCurrent }},
	{charger.TempT1, func(c *Charger) *Reading { return &c.TempT1 }},
	{charger.TempT2, func(c *Charger) *Reading { return &c.TempT2 }},
	{charger.TempAmbient, func(c *Charger) *Reading { return &c.TempAmbient }},
	{charger.FaultWord, func(c *Charger) *Reading { return &c.Fault }},
	{charger.AlarmWord, func(c *Charger) *Reading { return &c.Alarm }},
	{charger.StatusWord, func(c *Charger) *Reading { return &c.Status }},
}

// Aggregator runs one poll cycle at a time over both buses. It is not
// safe for concurrent use; the bridge runner owns it.
type Aggregator struct {
	pids    PIDQuerier
	regs    RegisterReader
	timeout time.Duration
	seq     uint64
	codes   Codes
	now     func() time.Time
}

// NewAggregator returns an aggregator querying PIDs with the given
// response window.
func NewAggregator(pids PIDQuerier, regs RegisterReader, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Aggregator{pids: pids, regs: regs, timeout: timeout, now: time.Now}
}

// PollCycle queries every signal once and returns a new snapshot. A failed
// exchange leaves its field unknown; a bus is alive in the snapshot only
// if at least one of its exchanges succeeded during this cycle.
func (a *Aggregator) PollCycle() *Snapshot {
	s := Snapshot{Codes: a.codes}

	for _, sig := range vehicleSignals {
		desc, _ := obd.Lookup(sig.pid)
		v, err := a.pids.Query(sig.pid, desc.Width, a.timeout)
		if err != nil {
			continue
		}
		*sig.field(&s.Vehicle) = Known(v)
		s.CANAlive = true
	}

	for _, sig := range chargerSignals {
		raw, err := a.regs.ReadRegister(sig.reg.Addr)
		if err != nil {
			continue
		}
		*sig.field(&s.Charger) = Known(sig.reg.Decode(raw))
		s.RegisterAlive = true
	}

	a.seq++
	s.Seq = a.seq
	s.At = a.now()
	return &s
}

// SetCodes records a scan result for the following snapshots. Failed scans
// keep the previous codes. Slices are replaced, never modified, so earlier
// snapshots keep what they saw.
func (a *Aggregator) SetCodes(res obd.ScanResult) {
	if !res.OK {
		return
	}
	codes := append([]string(nil), res.Codes...)
	switch res.Kind {
	case obd.Stored:
		a.codes.Stored = codes
	case obd.Pending:
		a.codes.Pending = codes
	}
	a.codes.ScannedAt = res.At
}

// SetMIL records the malfunction indicator state.
func (a *Aggregator) SetMIL(st obd.MILStatus) {
	a.codes.MIL = &st
}

// ClearCodes forgets all codes after a successful clear command.
func (a *Aggregator) ClearCodes(at time.Time) {
	a.codes = Codes{Stored: []string{}, Pending: []string{}, ScannedAt: at, MIL: &obd.MILStatus{}}
}
