package rs485

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// RTU is a charger.Transport backed by a Modbus RTU serial handler. The
// handler times the inter-frame silence and reads a reply sized for the
// request's function code; the register client still validates it.
type RTU struct {
	mu        sync.Mutex
	handler   *modbus.RTUClientHandler
	connected bool
	reply     []byte
	sendErr   error
}

// NewRTU returns an unopened RTU transport. timeout bounds each reply.
func NewRTU(cfg PortConfig, unit byte, timeout time.Duration, debug bool) *RTU {
	cfg = cfg.withDefaults()
	h := modbus.NewRTUClientHandler(cfg.PortPath)
	h.BaudRate = cfg.BaudRate
	h.DataBits = 8
	h.Parity = cfg.Parity
	h.StopBits = cfg.StopBits
	h.SlaveId = unit
	h.Timeout = timeout
	if debug {
		h.Logger = log.New(os.Stderr, "[modbus] ", log.Ldate|log.Ltime)
	}
	return &RTU{handler: h}
}

func (r *RTU) Name() string { return "Modbus RTU " + r.handler.Address }

func (r *RTU) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.handler.Connect(); err != nil {
		return fmt.Errorf("modbus rtu: open %s: %w", r.handler.Address, err)
	}
	r.connected = true
	log.Printf("[rs485] modbus rtu on %s at %d baud", r.handler.Address, r.handler.BaudRate)
	return nil
}

func (r *RTU) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	return r.handler.Close()
}

// Write performs the whole request/reply exchange and keeps the reply for
// ReadAvailable.
func (r *RTU) Write(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return codec.ErrNotConnected
	}
	r.reply, r.sendErr = r.handler.Send(frame)
	return nil
}

// ReadAvailable hands out the reply of the last Write once. A failed
// exchange means the charger did not answer in time.
func (r *RTU) ReadAvailable(timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	reply, err := r.reply, r.sendErr
	r.reply, r.sendErr = nil, nil
	r.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("modbus rtu: %v: %w", err, codec.ErrTimeout)
	}
	if len(reply) == 0 && timeout > 0 {
		time.Sleep(timeout)
	}
	return reply, nil
}
