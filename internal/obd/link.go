// Package obd implements the diagnostic side of the bridge: single-PID
// live-data queries and trouble-code exchanges over a shared CAN transport.
package obd

import (
	"fmt"
	"sync"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// CAN identifiers and service bytes of the SAE J1979 request/response scheme.
const (
	RequestID     uint32 = 0x7DF // functional (broadcast) request
	ResponseIDMin uint32 = 0x7E8
	ResponseIDMax uint32 = 0x7EF

	ServiceCurrentData byte = 0x01
	ServiceStoredDTC   byte = 0x03
	ServiceClearDTC    byte = 0x04
	ServicePendingDTC  byte = 0x07

	// positiveResponse is added to the request service byte in replies.
	positiveResponse byte = 0x40
)

// Frame is one classic CAN frame.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [8]byte
}

// NewFrame builds a frame with the given payload, zero padded to 8 bytes.
// Request frames always carry a full 8-byte payload.
func NewFrame(id uint32, payload ...byte) Frame {
	f := Frame{ID: id, Len: 8}
	copy(f.Data[:], payload)
	return f
}

// IsResponseID reports whether id is in the reserved diagnostic response range.
func IsResponseID(id uint32) bool {
	return id >= ResponseIDMin && id <= ResponseIDMax
}

// Transport is the only way the core reaches the vehicle bus.
type Transport interface {
	// Transmit queues f for sending, giving up after timeout.
	Transmit(f Frame, timeout time.Duration) error
	// Receive waits up to timeout for the next frame from the bus.
	Receive(timeout time.Duration) (Frame, bool)
}

// Link serializes exchanges on one physical CAN transport. The query
// client and the trouble-code service share a Link, so their requests can
// never interleave on the wire.
type Link struct {
	mu        sync.Mutex
	tr        Transport
	txTimeout time.Duration
	rxSlice   time.Duration
}

// NewLink wraps tr. Transmits are bounded by 80 ms and receives are polled
// in 50 ms slices.
func NewLink(tr Transport) *Link {
	return &Link{
		tr:        tr,
		txTimeout: 80 * time.Millisecond,
		rxSlice:   50 * time.Millisecond,
	}
}

// Exchange transmits req and hands every frame from the response ID range
// to accept until accept returns true or window elapses. It returns nil
// when accept finished the exchange and a codec.ErrTimeout wrapped error
// when the window ran out.
func (l *Link) Exchange(req Frame, window time.Duration, accept func(Frame) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.tr.Transmit(req, l.txTimeout); err != nil {
		return fmt.Errorf("%w: %w", codec.ErrTransmit, err)
	}

	deadline := time.Now().Add(window)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return fmt.Errorf("no response to service 0x%02X within %v: %w", req.Data[1], window, codec.ErrTimeout)
		}
		if wait > l.rxSlice {
			wait = l.rxSlice
		}
		f, ok := l.tr.Receive(wait)
		if !ok || !IsResponseID(f.ID) {
			continue
		}
		if accept(f) {
			return nil
		}
	}
}
