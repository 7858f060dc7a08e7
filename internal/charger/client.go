package charger

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// Transport is a half-duplex byte link to the charger.
type Transport interface {
	// Write sends one request frame.
	Write(frame []byte) error
	// ReadAvailable returns whatever bytes arrive within timeout, possibly
	// none. A zero timeout returns only what is already buffered.
	ReadAvailable(timeout time.Duration) ([]byte, error)
}

// Client performs single-register exchanges. Exchanges are serialized and
// never retried; the caller decides what a failure means.
type Client struct {
	mu      sync.Mutex
	tr      Transport
	unit    byte
	timeout time.Duration
}

// NewClient returns a client for unit on tr. A zero timeout selects the
// charger's 200 ms reply deadline.
func NewClient(tr Transport, unit byte, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Client{tr: tr, unit: unit, timeout: timeout}
}

// ReadRegister reads one holding register.
func (c *Client) ReadRegister(addr uint16) (uint16, error) {
	reply, err := c.exchange(ReadRequest(c.unit, addr), readReplyLen)
	if err != nil {
		return 0, fmt.Errorf("read 0x%04X: %w", addr, err)
	}
	v, err := ParseReadReply(c.unit, reply)
	if err != nil {
		return 0, fmt.Errorf("read 0x%04X: %w", addr, err)
	}
	return v, nil
}

// Read reads r and decodes it.
func (c *Client) Read(r Register) (float64, error) {
	raw, err := c.ReadRegister(r.Addr)
	if err != nil {
		return 0, err
	}
	return r.Decode(raw), nil
}

// WriteRegister writes one holding register and checks the echo.
func (c *Client) WriteRegister(addr, value uint16) error {
	req := WriteRequest(c.unit, addr, value)
	reply, err := c.exchange(req, writeReplyLen)
	if err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	if err := CheckWriteReply(c.unit, reply); err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	if !bytes.Equal(reply, req) {
		return fmt.Errorf("write 0x%04X: echo % X: %w", addr, reply, codec.ErrUnexpected)
	}
	return nil
}

// SetCurrent commands the charge current setpoint in amps.
func (c *Client) SetCurrent(amps float64) error {
	raw := math.Round(amps * 100)
	if math.IsNaN(raw) || raw < 0 || raw > math.MaxUint16 {
		return fmt.Errorf("set current %.2f A: out of range", amps)
	}
	return c.WriteRegister(SetCurrentAddr, uint16(raw))
}

// exchange writes req and collects up to want reply bytes before the
// deadline. Bytes that trail a complete reply are drained with it so they
// cannot leak into the next exchange.
func (c *Client) exchange(req []byte, want int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tr.Write(req); err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrTransmit, err)
	}

	deadline := time.Now().Add(c.timeout)
	var reply []byte
	for len(reply) < want {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		b, err := c.tr.ReadAvailable(wait)
		if err != nil {
			return nil, err
		}
		reply = append(reply, b...)
	}
	if len(reply) >= want {
		if extra, err := c.tr.ReadAvailable(0); err == nil {
			reply = append(reply, extra...)
		}
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("no reply within %v: %w", c.timeout, codec.ErrTimeout)
	}
	return reply, nil
}
