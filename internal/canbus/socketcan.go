// Package canbus provides CAN transports for the diagnostic client.
package canbus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brutella/can"

	"github.com/shaunagostinho/dashbridge/internal/codec"
	"github.com/shaunagostinho/dashbridge/internal/obd"
)

// rxQueue bounds frames buffered between the socket reader and Receive.
const rxQueue = 256

// SocketCAN is an obd.Transport over a Linux SocketCAN interface.
// Controller bitrate and link state are configured outside the process
// (ip link set can0 type can bitrate 500000).
type SocketCAN struct {
	iface string

	mu  sync.Mutex
	bus *can.Bus

	rx chan obd.Frame
}

// NewSocketCAN returns a transport for iface, e.g. "can0".
func NewSocketCAN(iface string) *SocketCAN {
	return &SocketCAN{iface: iface, rx: make(chan obd.Frame, rxQueue)}
}

func (s *SocketCAN) Name() string { return "SocketCAN " + s.iface }

// Connect opens the interface and starts the receive loop.
func (s *SocketCAN) Connect() error {
	bus, err := can.NewBusForInterfaceWithName(s.iface)
	if err != nil {
		return fmt.Errorf("socketcan: open %s: %w", s.iface, err)
	}
	bus.SubscribeFunc(s.handle)

	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			log.Printf("[socketcan] %s receive loop ended: %v", s.iface, err)
		}
		s.mu.Lock()
		if s.bus == bus {
			s.bus = nil
		}
		s.mu.Unlock()
	}()
	log.Printf("[socketcan] listening on %s", s.iface)
	return nil
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	bus := s.bus
	s.bus = nil
	s.mu.Unlock()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

// handle runs on the receive loop. Only diagnostic responses are queued;
// the rest of the bus traffic is dropped here.
func (s *SocketCAN) handle(f can.Frame) {
	if !obd.IsResponseID(f.ID) {
		return
	}
	select {
	case s.rx <- fromCAN(f):
	default:
	}
}

// Transmit discards stale responses and publishes f.
func (s *SocketCAN) Transmit(f obd.Frame, timeout time.Duration) error {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return codec.ErrNotConnected
	}

	s.drain()

	errc := make(chan error, 1)
	go func() { errc <- bus.Publish(toCAN(f)) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("socketcan: publish 0x%03X: %w", f.ID, codec.ErrTimeout)
	}
}

func (s *SocketCAN) Receive(timeout time.Duration) (obd.Frame, bool) {
	return receive(s.rx, timeout)
}

func (s *SocketCAN) drain() {
	for {
		select {
		case <-s.rx:
		default:
			return
		}
	}
}

func receive(rx <-chan obd.Frame, timeout time.Duration) (obd.Frame, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-rx:
		return f, true
	case <-t.C:
		return obd.Frame{}, false
	}
}

func toCAN(f obd.Frame) can.Frame {
	return can.Frame{ID: f.ID, Length: f.Len, Data: f.Data}
}

func fromCAN(f can.Frame) obd.Frame {
	return obd.Frame{ID: f.ID, Len: f.Length, Data: f.Data}
}
