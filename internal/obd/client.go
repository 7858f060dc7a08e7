package obd

import (
	"errors"
	"fmt"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// ErrUnknownPID is returned for codes missing from the descriptor table.
var ErrUnknownPID = errors.New("obd: unknown pid")

// Client issues Mode 01 live-data queries.
type Client struct {
	link    *Link
	timeout time.Duration
}

// NewClient returns a query client on link. timeout is the response
// window used by QueryPID; zero selects 200 ms.
func NewClient(link *Link, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Client{link: link, timeout: timeout}
}

// QueryFrame builds the Mode 01 request for pid.
func QueryFrame(pid byte) Frame {
	return NewFrame(RequestID, 0x02, ServiceCurrentData, pid)
}

// Query reads one PID and returns its engineering value. width must match
// the descriptor table. Any error means the value is unknown.
func (c *Client) Query(pid byte, width int, timeout time.Duration) (float64, error) {
	desc, ok := Lookup(pid)
	if !ok {
		return 0, fmt.Errorf("pid 0x%02X: %w", pid, ErrUnknownPID)
	}
	if width != desc.Width {
		return 0, fmt.Errorf("pid 0x%02X: width %d, table has %d: %w", pid, width, desc.Width, codec.ErrWidth)
	}

	var (
		raw       uint32
		decodeErr error
	)
	err := c.link.Exchange(QueryFrame(pid), timeout, func(f Frame) bool {
		if f.Data[1] != ServiceCurrentData+positiveResponse || f.Data[2] != pid {
			return false
		}
		raw, decodeErr = payload(f, width)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("pid 0x%02X: %w", pid, err)
	}
	if decodeErr != nil {
		return 0, fmt.Errorf("pid 0x%02X: %w", pid, decodeErr)
	}
	return desc.Decode(raw), nil
}

// QueryPID reads p using the client's default response window.
func (c *Client) QueryPID(p PID) (float64, error) {
	return c.Query(p.Code, p.Width, c.timeout)
}

// payload extracts width value bytes from a positive response. The first
// data byte counts the service and PID bytes plus the value bytes, and the
// frame itself must carry them.
func payload(f Frame, width int) (uint32, error) {
	if int(f.Data[0]) < 2+width {
		return 0, fmt.Errorf("length byte %d, need %d: %w", f.Data[0], 2+width, codec.ErrPartial)
	}
	if int(f.Len) < 3+width {
		return 0, fmt.Errorf("frame of %d bytes, need %d: %w", f.Len, 3+width, codec.ErrPartial)
	}
	return codec.Raw(f.Data[3:], width)
}
