// Package rs485 provides half-duplex serial transports for the charger
// register client.
package rs485

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// PortConfig describes a serial line to the charger.
type PortConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	Parity   string `yaml:"parity" json:"parity"` // "N", "E" or "O"
	StopBits int    `yaml:"stop_bits" json:"stopBits"`
}

func (c PortConfig) withDefaults() PortConfig {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	return c
}

// Port is a charger.Transport on a raw serial port. The register client
// does its own framing and checksum validation.
type Port struct {
	cfg PortConfig

	mu   sync.Mutex
	port serial.Port
	buf  []byte
}

// NewPort returns an unopened port.
func NewPort(cfg PortConfig) *Port {
	return &Port{cfg: cfg.withDefaults(), buf: make([]byte, 256)}
}

func (p *Port) Name() string { return "RS-485 " + p.cfg.PortPath }

// Connect opens the serial device.
func (p *Port) Connect() error {
	mode := &serial.Mode{
		BaudRate: p.cfg.BaudRate,
		DataBits: 8,
		Parity:   parity(p.cfg.Parity),
		StopBits: serial.OneStopBit,
	}
	if p.cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	port, err := serial.Open(p.cfg.PortPath, mode)
	if err != nil {
		return fmt.Errorf("rs485: failed to open %s: %w", p.cfg.PortPath, err)
	}

	p.mu.Lock()
	p.port = port
	p.mu.Unlock()
	log.Printf("[rs485] opened %s at %d baud", p.cfg.PortPath, p.cfg.BaudRate)
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Write discards unread input and sends frame.
func (p *Port) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return codec.ErrNotConnected
	}
	p.port.ResetInputBuffer()
	if _, err := p.port.Write(frame); err != nil {
		return fmt.Errorf("rs485: write: %w", err)
	}
	return nil
}

// ReadAvailable returns the bytes received within timeout.
func (p *Port) ReadAvailable(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil, codec.ErrNotConnected
	}
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("rs485: set timeout: %w", err)
	}
	n, err := p.port.Read(p.buf)
	if err != nil {
		return nil, fmt.Errorf("rs485: read: %w", err)
	}
	return append([]byte(nil), p.buf[:n]...), nil
}

func parity(s string) serial.Parity {
	switch s {
	case "E", "e":
		return serial.EvenParity
	case "O", "o":
		return serial.OddParity
	}
	return serial.NoParity
}
