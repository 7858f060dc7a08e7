// Package codec holds the pure helpers both bus protocols are built on:
// the serial-register checksum and fixed-point decoding of raw integers.
package codec

// Checksum computes the reflected CRC-16 used by the serial register
// protocol (polynomial 0xA001, initial value 0xFFFF).
func Checksum(b []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, v := range b {
		crc ^= uint16(v)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendChecksum returns b with its checksum appended low byte first.
func AppendChecksum(b []byte) []byte {
	crc := Checksum(b)
	return append(b, byte(crc&0xFF), byte(crc>>8))
}

// ValidChecksum reports whether the last two bytes of frame are the
// checksum (low, high) of everything before them.
func ValidChecksum(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	crc := Checksum(frame[:n])
	return frame[n] == byte(crc&0xFF) && frame[n+1] == byte(crc>>8)
}
