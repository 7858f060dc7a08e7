package codec

import "fmt"

// Raw reads a big-endian unsigned integer of width 1, 2 or 4 bytes from
// the start of b.
func Raw(b []byte, width int) (uint32, error) {
	switch width {
	case 1, 2, 4:
	default:
		return 0, fmt.Errorf("width %d: %w", width, ErrWidth)
	}
	if len(b) < width {
		return 0, fmt.Errorf("need %d bytes, have %d: %w", width, len(b), ErrPartial)
	}
	var v uint32
	for _, c := range b[:width] {
		v = v<<8 | uint32(c)
	}
	return v, nil
}

// Affine maps a raw integer to a physical value: raw*scale + offset.
func Affine(raw uint32, scale, offset float64) float64 {
	return float64(raw)*scale + offset
}

// Signed16 reinterprets a register word as two's complement.
func Signed16(v uint16) int16 {
	return int16(v)
}
