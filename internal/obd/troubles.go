package obd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// ScanKind selects stored (confirmed) or pending trouble codes.
type ScanKind byte

const (
	Stored  ScanKind = ScanKind(ServiceStoredDTC)
	Pending ScanKind = ScanKind(ServicePendingDTC)
)

func (k ScanKind) String() string {
	switch k {
	case Stored:
		return "stored"
	case Pending:
		return "pending"
	}
	return "unknown"
}

// ScanResult is the outcome of one trouble-code scan.
type ScanResult struct {
	Kind  ScanKind  `json:"kind"`
	Codes []string  `json:"codes"`
	OK    bool      `json:"ok"`
	At    time.Time `json:"at"`
}

// MILStatus is the malfunction indicator state from PID 0x01.
type MILStatus struct {
	On    bool `json:"on"`
	Count int  `json:"count"`
}

type scanState int

const (
	stateIdle scanState = iota
	stateAwaitingFrames
	stateDone
)

// scan accumulates codes from the response frames of one scan request.
type scan struct {
	kind   ScanKind
	max    int
	state  scanState
	echoed bool
	seen   map[string]struct{}
	codes  []string
}

func newScan(kind ScanKind, max int) *scan {
	return &scan{kind: kind, max: max, seen: make(map[string]struct{})}
}

// feed consumes one frame and reports whether the code limit was reached.
func (s *scan) feed(f Frame) bool {
	if s.state != stateAwaitingFrames || f.Data[1] != byte(s.kind)+positiveResponse {
		return false
	}
	s.echoed = true
	for i := 2; i+1 < len(f.Data); i += 2 {
		code, ok := DecodeDTC(f.Data[i], f.Data[i+1])
		if !ok {
			continue
		}
		if _, dup := s.seen[code]; dup {
			continue
		}
		s.seen[code] = struct{}{}
		s.codes = append(s.codes, code)
		if len(s.codes) >= s.max {
			s.state = stateDone
			return true
		}
	}
	return false
}

// TroubleCodes reads and clears diagnostic trouble codes. It shares the
// Link of the query client.
type TroubleCodes struct {
	link *Link

	ScanWindow  time.Duration
	ClearWindow time.Duration
	MILWindow   time.Duration
	MaxCodes    int
}

// NewTroubleCodes returns a service with the default timing: a 1 s
// collection window capped at 32 codes, 2 s to confirm a clear and 500 ms
// for MIL status.
func NewTroubleCodes(link *Link) *TroubleCodes {
	return &TroubleCodes{
		link:        link,
		ScanWindow:  time.Second,
		ClearWindow: 2 * time.Second,
		MILWindow:   500 * time.Millisecond,
		MaxCodes:    32,
	}
}

// Scan requests codes of the given kind and collects them from every
// responding controller until the window closes or MaxCodes is reached.
// OK is false when the request could not be sent or nobody answered.
func (t *TroubleCodes) Scan(kind ScanKind) ScanResult {
	s := newScan(kind, t.MaxCodes)
	s.state = stateAwaitingFrames
	err := t.link.Exchange(NewFrame(RequestID, 0x01, byte(kind)), t.ScanWindow, s.feed)
	s.state = stateDone

	res := ScanResult{Kind: kind, Codes: s.codes, At: time.Now()}
	switch {
	case err == nil:
		res.OK = true
	case errors.Is(err, codec.ErrTimeout):
		res.OK = s.echoed
	default:
		log.Printf("[dtc] %s scan failed: %v", kind, err)
	}
	if res.Codes == nil {
		res.Codes = []string{}
	}
	return res
}

// Clear asks every controller to erase its codes and waits for the first
// acknowledgement.
func (t *TroubleCodes) Clear() error {
	return t.link.Exchange(NewFrame(RequestID, 0x01, ServiceClearDTC), t.ClearWindow, func(f Frame) bool {
		return f.Data[1] == ServiceClearDTC+positiveResponse
	})
}

// MILStatus reads the malfunction indicator lamp and stored code count.
func (t *TroubleCodes) MILStatus() (MILStatus, error) {
	var (
		raw       uint32
		decodeErr error
	)
	err := t.link.Exchange(QueryFrame(PIDMonitorStatus), t.MILWindow, func(f Frame) bool {
		if f.Data[1] != ServiceCurrentData+positiveResponse || f.Data[2] != PIDMonitorStatus {
			return false
		}
		raw, decodeErr = payload(f, 1)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return MILStatus{}, fmt.Errorf("mil status: %w", err)
	}
	return MILStatus{On: raw&0x80 != 0, Count: int(raw & 0x7F)}, nil
}
