package canbus

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/codec"
	"github.com/shaunagostinho/dashbridge/internal/obd"
)

// SimECU answers diagnostic requests like an engine controller on a
// drive cycle. It stands in for the vehicle bus in demo mode.
type SimECU struct {
	mu        sync.Mutex
	connected bool
	start     time.Time
	now       func() time.Time
	stored    []string
	pending   []string

	rx chan obd.Frame
}

// NewSimECU returns a simulated engine controller reporting a couple of
// stored and pending codes.
func NewSimECU() *SimECU {
	return &SimECU{
		now:     time.Now,
		stored:  []string{"P0420", "P0171"},
		pending: []string{"P0300"},
		rx:      make(chan obd.Frame, 16),
	}
}

func (s *SimECU) Name() string { return "Demo ECU (Simulated)" }

func (s *SimECU) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.start = s.now()
	return nil
}

func (s *SimECU) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *SimECU) Transmit(f obd.Frame, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return codec.ErrNotConnected
	}
	if f.ID != obd.RequestID {
		return nil
	}

	var replies []obd.Frame
	switch f.Data[1] {
	case obd.ServiceCurrentData:
		replies = s.currentData(f.Data[2])
	case obd.ServiceStoredDTC:
		replies = codeFrames(obd.ServiceStoredDTC, s.stored)
	case obd.ServicePendingDTC:
		replies = codeFrames(obd.ServicePendingDTC, s.pending)
	case obd.ServiceClearDTC:
		s.stored, s.pending = nil, nil
		replies = []obd.Frame{obd.NewFrame(obd.ResponseIDMin, 0x01, obd.ServiceClearDTC+0x40)}
	}
	for _, r := range replies {
		select {
		case s.rx <- r:
		default:
		}
	}
	return nil
}

func (s *SimECU) Receive(timeout time.Duration) (obd.Frame, bool) {
	return receive(s.rx, timeout)
}

func (s *SimECU) currentData(pid byte) []obd.Frame {
	if pid == obd.PIDMonitorStatus {
		status := byte(len(s.stored))
		if len(s.stored) > 0 {
			status |= 0x80
		}
		return []obd.Frame{obd.NewFrame(obd.ResponseIDMin, 0x06, 0x41, pid, status, 0x07, 0xE5, 0x00)}
	}
	desc, ok := obd.Lookup(pid)
	if !ok {
		return nil
	}

	raw := encode(desc, s.signal(desc, s.now().Sub(s.start).Seconds()))
	payload := []byte{byte(2 + desc.Width), 0x41, pid}
	for i := desc.Width - 1; i >= 0; i-- {
		payload = append(payload, byte(raw>>(8*i)))
	}
	return []obd.Frame{obd.NewFrame(obd.ResponseIDMin, payload...)}
}

// signal models a warm-up followed by repeated acceleration and cruise.
func (s *SimECU) signal(p obd.PID, t float64) float64 {
	wave := math.Sin(t*0.15) * math.Sin(t*0.15)
	rpm := 850 + 2600*wave + rand.Float64()*40
	warm := 1 - math.Exp(-t/40)

	switch p.Code {
	case obd.PIDRPM:
		return rpm
	case obd.PIDSpeed:
		return (rpm - 850) / 2600 * 110
	case obd.PIDCoolantTemp:
		return 20 + 70*warm + rand.Float64()*2
	case obd.PIDOilTemp:
		return 20 + 75*warm
	case obd.PIDThrottle, obd.PIDEngineLoad:
		return 15 + 60*wave
	case obd.PIDFuelRate:
		return 0.8 + 9*wave
	case obd.PIDMAF:
		return 3 + 40*wave
	case obd.PIDTimingAdvance:
		return 10 + 20*wave
	case obd.PIDIntakeAirTemp, obd.PIDAmbientAirTemp:
		return 22 + rand.Float64()*3
	case obd.PIDFuelLevel:
		return math.Max(5, 80-t/60)
	case obd.PIDO2B1S1:
		return 0.45 + 0.4*math.Sin(t*3)
	}
	return p.Min + (p.Max-p.Min)*0.5
}

// encode inverts the descriptor's affine decode.
func encode(p obd.PID, v float64) uint32 {
	raw := math.Round((v - p.Offset) / p.Scale)
	limit := math.Pow(2, float64(8*p.Width)) - 1
	return uint32(math.Min(math.Max(raw, 0), limit))
}

// codeFrames packs up to three codes per response frame. An empty list
// still gets one frame so the requester sees the echo.
func codeFrames(service byte, codes []string) []obd.Frame {
	var out []obd.Frame
	for i := 0; i == 0 || i < len(codes); i += 3 {
		payload := []byte{0x02, service + 0x40}
		for j := i; j < i+3 && j < len(codes); j++ {
			hi, lo, err := obd.EncodeDTC(codes[j])
			if err != nil {
				continue
			}
			payload = append(payload, hi, lo)
		}
		payload[0] = byte(len(payload) - 1)
		out = append(out, obd.NewFrame(obd.ResponseIDMin, payload...))
	}
	return out
}
