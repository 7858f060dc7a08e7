package rs485

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/charger"
	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// SimCharger emulates the charger's register interface in demo mode. The
// battery voltage and heat sink temperatures follow the commanded current.
type SimCharger struct {
	mu        sync.Mutex
	connected bool
	unit      byte
	regs      map[uint16]uint16
	last      time.Time
	now       func() time.Time
	pending   []byte
}

// NewSimCharger returns a charger at unit with a half charged 24 V battery.
func NewSimCharger(unit byte) *SimCharger {
	return &SimCharger{
		unit: unit,
		now:  time.Now,
		regs: map[uint16]uint16{
			charger.InputVoltage.Addr:   1380,
			charger.InputCurrent.Addr:   0,
			charger.BatteryVoltage.Addr: 2550,
			charger.BatteryCurrent.Addr: 0,
			charger.TempT1.Addr:         25,
			charger.TempT2.Addr:         25,
			charger.TempAmbient.Addr:    22,
			charger.FaultWord.Addr:      0,
			charger.AlarmWord.Addr:      0,
			charger.StatusWord.Addr:     0x0001,
			charger.SetCurrentAddr:      0,
		},
	}
}

func (s *SimCharger) Name() string { return "Demo Charger (Simulated)" }

func (s *SimCharger) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.last = s.now()
	return nil
}

func (s *SimCharger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// SetRegister overrides a register value, e.g. to raise a fault bit.
func (s *SimCharger) SetRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[addr] = value
}

// Register returns the current value of addr.
func (s *SimCharger) Register(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

func (s *SimCharger) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return codec.ErrNotConnected
	}
	s.pending = nil
	if len(frame) != 8 || frame[0] != s.unit || !codec.ValidChecksum(frame) {
		return nil // a real device stays silent
	}
	s.step()

	addr := binary.BigEndian.Uint16(frame[2:4])
	switch frame[1] {
	case charger.FuncReadHolding:
		v, ok := s.regs[addr]
		if !ok {
			s.pending = codec.AppendChecksum([]byte{s.unit, frame[1] | 0x80, 0x02})
			return nil
		}
		s.pending = codec.AppendChecksum([]byte{s.unit, frame[1], 0x02, byte(v >> 8), byte(v)})
	case charger.FuncWriteSingle:
		s.regs[addr] = binary.BigEndian.Uint16(frame[4:6])
		s.pending = append([]byte(nil), frame...)
	default:
		s.pending = codec.AppendChecksum([]byte{s.unit, frame[1] | 0x80, 0x01})
	}
	return nil
}

func (s *SimCharger) ReadAvailable(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	out := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(out) == 0 && timeout > 0 {
		time.Sleep(timeout)
	}
	return out, nil
}

// step moves the battery and heat sinks toward the state implied by the
// commanded current.
func (s *SimCharger) step() {
	now := s.now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}

	setpoint := float64(s.regs[charger.SetCurrentAddr]) / 100
	battI := approach(float64(s.regs[charger.BatteryCurrent.Addr])/100, setpoint, dt, 2)
	battV := float64(s.regs[charger.BatteryVoltage.Addr]) / 100
	battV = math.Min(28.8, battV+battI*dt*0.0005)
	if battI < 0.1 {
		battV = math.Max(24.5, battV-dt*0.0002)
	}
	heat := float64(s.regs[charger.TempAmbient.Addr]) + battI*1.4

	s.regs[charger.BatteryCurrent.Addr] = uint16(math.Round(battI * 100))
	s.regs[charger.BatteryVoltage.Addr] = uint16(math.Round(battV * 100))
	s.regs[charger.InputCurrent.Addr] = uint16(math.Round(battI * battV / 13.8 * 100 / 0.92))
	s.regs[charger.TempT1.Addr] = towardTemp(s.regs[charger.TempT1.Addr], heat, dt)
	s.regs[charger.TempT2.Addr] = towardTemp(s.regs[charger.TempT2.Addr], heat-3, dt)
}

func towardTemp(raw uint16, target, dt float64) uint16 {
	t := approach(float64(int16(raw)), target, dt, 10)
	return uint16(int16(math.Round(t)))
}

// approach moves v toward target with first order lag tau seconds.
func approach(v, target, dt, tau float64) float64 {
	return target + (v-target)*math.Exp(-dt/tau)
}
