package codec

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumKnownFrame(t *testing.T) {
	// Read one holding register at 0x0000 from unit 1.
	frame := AppendChecksum([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}, frame)
	assert.True(t, ValidChecksum(frame))
}

func TestChecksumRoundTripAndBitFlips(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 1; n <= 32; n++ {
		data := make([]byte, n)
		rng.Read(data)

		frame := AppendChecksum(append([]byte(nil), data...))
		require.True(t, ValidChecksum(frame), "len %d", n)

		for bit := 0; bit < n*8; bit++ {
			flipped := append([]byte(nil), frame...)
			flipped[bit/8] ^= 1 << (bit % 8)
			assert.False(t, ValidChecksum(flipped), "len %d bit %d", n, bit)
		}
	}
}

func TestValidChecksumShortFrames(t *testing.T) {
	assert.False(t, ValidChecksum(nil))
	assert.False(t, ValidChecksum([]byte{0xFF, 0xFF}))
}

func TestRaw(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		width int
		want  uint32
		err   error
	}{
		{"one byte", []byte{0x55, 0x01}, 1, 0x55, nil},
		{"two bytes", []byte{0x1A, 0x0B}, 2, 0x1A0B, nil},
		{"four bytes", []byte{0x01, 0x02, 0x03, 0x04}, 4, 0x01020304, nil},
		{"short", []byte{0x01}, 2, 0, ErrPartial},
		{"bad width", []byte{0x01, 0x02, 0x03}, 3, 0, ErrWidth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Raw(tt.in, tt.width)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAffine(t *testing.T) {
	assert.Equal(t, 1666.75, Affine(0x1A0B, 0.25, 0))
	assert.Equal(t, 50.0, Affine(90, 1, -40))

	// Pure affine map over the whole one-byte domain.
	for r := uint32(0); r <= 0xFF; r++ {
		assert.Equal(t, float64(r)*0.5-64, Affine(r, 0.5, -64))
	}
}

func TestSigned16(t *testing.T) {
	assert.Equal(t, int16(-5), Signed16(0xFFFB))
	assert.Equal(t, int16(42), Signed16(42))
}
