// Package charger talks to the battery charger over its half-duplex
// serial register protocol (Modbus RTU framing, one register per request).
package charger

import (
	"encoding/binary"
	"fmt"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

const (
	// DefaultUnit is the charger's bus address.
	DefaultUnit byte = 0x01

	FuncReadHolding byte = 0x03
	FuncWriteSingle byte = 0x06

	exceptionFlag byte = 0x80

	readReplyLen  = 7 // unit, fc, count, hi, lo, crc, crc
	writeReplyLen = 8 // echo of the request
)

// ReadRequest builds a single holding-register read.
func ReadRequest(unit byte, addr uint16) []byte {
	b := make([]byte, 6, 8)
	b[0] = unit
	b[1] = FuncReadHolding
	binary.BigEndian.PutUint16(b[2:], addr)
	binary.BigEndian.PutUint16(b[4:], 1)
	return codec.AppendChecksum(b)
}

// WriteRequest builds a single-register write.
func WriteRequest(unit byte, addr, value uint16) []byte {
	b := make([]byte, 6, 8)
	b[0] = unit
	b[1] = FuncWriteSingle
	binary.BigEndian.PutUint16(b[2:], addr)
	binary.BigEndian.PutUint16(b[4:], value)
	return codec.AppendChecksum(b)
}

// ParseReadReply validates a read reply from unit and returns the value.
func ParseReadReply(unit byte, reply []byte) (uint16, error) {
	if err := checkException(reply, FuncReadHolding); err != nil {
		return 0, err
	}
	switch {
	case len(reply) < readReplyLen:
		return 0, fmt.Errorf("read reply of %d bytes: %w", len(reply), codec.ErrPartial)
	case len(reply) > readReplyLen:
		return 0, fmt.Errorf("read reply of %d bytes: %w", len(reply), codec.ErrUnexpected)
	case !codec.ValidChecksum(reply):
		return 0, fmt.Errorf("read reply % X: %w", reply, codec.ErrChecksum)
	case reply[0] != unit || reply[1] != FuncReadHolding:
		return 0, fmt.Errorf("read reply from unit %d fc 0x%02X: %w", reply[0], reply[1], codec.ErrUnexpected)
	case reply[2] != 2:
		return 0, fmt.Errorf("read reply byte count %d: %w", reply[2], codec.ErrUnexpected)
	}
	return binary.BigEndian.Uint16(reply[3:5]), nil
}

// CheckWriteReply validates the echo of a single-register write.
func CheckWriteReply(unit byte, reply []byte) error {
	if err := checkException(reply, FuncWriteSingle); err != nil {
		return err
	}
	switch {
	case len(reply) < writeReplyLen:
		return fmt.Errorf("write reply of %d bytes: %w", len(reply), codec.ErrPartial)
	case len(reply) > writeReplyLen:
		return fmt.Errorf("write reply of %d bytes: %w", len(reply), codec.ErrUnexpected)
	case !codec.ValidChecksum(reply):
		return fmt.Errorf("write reply % X: %w", reply, codec.ErrChecksum)
	case reply[0] != unit || reply[1] != FuncWriteSingle:
		return fmt.Errorf("write reply from unit %d fc 0x%02X: %w", reply[0], reply[1], codec.ErrUnexpected)
	}
	return nil
}

func checkException(reply []byte, fc byte) error {
	if len(reply) >= 3 && reply[1] == fc|exceptionFlag {
		return fmt.Errorf("exception 0x%02X for fc 0x%02X: %w", reply[2], fc, codec.ErrUnexpected)
	}
	return nil
}
