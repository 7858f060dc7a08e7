package codec

import "errors"

// Failure classes shared by both bus clients. Callers wrap these with
// fmt.Errorf("...: %w") and test with errors.Is.
var (
	// ErrTimeout means no acceptable response arrived before the deadline.
	ErrTimeout = errors.New("transport timeout")
	// ErrChecksum means a reply failed checksum validation.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrUnexpected means a reply echoed the wrong service, function or unit.
	ErrUnexpected = errors.New("unexpected response")
	// ErrPartial means a reply was shorter than its declared or expected size.
	ErrPartial = errors.New("partial data")
	// ErrTransmit means the request could not be put on the bus.
	ErrTransmit = errors.New("transmit failed")
	// ErrNotConnected is returned by transports whose port is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrWidth means a raw value width outside {1, 2, 4}.
	ErrWidth = errors.New("unsupported value width")
)
