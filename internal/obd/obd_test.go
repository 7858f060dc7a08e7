package obd

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/dashbridge/internal/codec"
)

// fakeBus answers each transmitted request with frames from respond.
type fakeBus struct {
	mu      sync.Mutex
	sent    []Frame
	queue   []Frame
	txErr   error
	respond func(req Frame) []Frame
}

func (b *fakeBus) Transmit(f Frame, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txErr != nil {
		return b.txErr
	}
	b.sent = append(b.sent, f)
	if b.respond != nil {
		b.queue = append(b.queue, b.respond(f)...)
	}
	return nil
}

func (b *fakeBus) Receive(timeout time.Duration) (Frame, bool) {
	b.mu.Lock()
	if len(b.queue) > 0 {
		f := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		return f, true
	}
	b.mu.Unlock()
	time.Sleep(timeout)
	return Frame{}, false
}

func ecu(id uint32, payload ...byte) Frame { return NewFrame(id, payload...) }

func fastCodes(link *Link) *TroubleCodes {
	t := NewTroubleCodes(link)
	t.ScanWindow = 60 * time.Millisecond
	t.ClearWindow = 60 * time.Millisecond
	t.MILWindow = 60 * time.Millisecond
	return t
}

func TestQueryRPM(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{ecu(0x7E8, 0x04, 0x41, 0x0C, 0x1A, 0x0B)}
	}}
	c := NewClient(NewLink(bus), 0)

	v, err := c.Query(PIDRPM, 2, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1666.75, v)

	require.Len(t, bus.sent, 1)
	assert.Equal(t, RequestID, bus.sent[0].ID)
	assert.Equal(t, [8]byte{0x02, 0x01, 0x0C, 0, 0, 0, 0, 0}, bus.sent[0].Data)
}

func TestQueryIgnoresForeignFrames(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{
			ecu(0x123, 0x03, 0x41, 0x05, 0x10), // not a diagnostic response
			ecu(0x7E9, 0x03, 0x41, 0x0D, 0x50), // another PID
			ecu(0x7E8, 0x03, 0x7F, 0x01, 0x12), // negative response
			ecu(0x7EA, 0x03, 0x41, 0x05, 0x5A),
		}
	}}
	c := NewClient(NewLink(bus), 0)

	v, err := c.Query(PIDCoolantTemp, 1, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

func TestQueryErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		c := NewClient(NewLink(&fakeBus{}), 0)
		start := time.Now()
		_, err := c.Query(PIDSpeed, 1, 40*time.Millisecond)
		assert.True(t, errors.Is(err, codec.ErrTimeout), "got %v", err)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
	t.Run("transmit", func(t *testing.T) {
		c := NewClient(NewLink(&fakeBus{txErr: errors.New("bus off")}), 0)
		_, err := c.Query(PIDSpeed, 1, 40*time.Millisecond)
		assert.True(t, errors.Is(err, codec.ErrTransmit), "got %v", err)
	})
	t.Run("unknown pid", func(t *testing.T) {
		c := NewClient(NewLink(&fakeBus{}), 0)
		_, err := c.Query(0xFE, 1, 40*time.Millisecond)
		assert.True(t, errors.Is(err, ErrUnknownPID), "got %v", err)
	})
	t.Run("width mismatch", func(t *testing.T) {
		bus := &fakeBus{}
		c := NewClient(NewLink(bus), 0)
		_, err := c.Query(PIDRPM, 1, 40*time.Millisecond)
		assert.True(t, errors.Is(err, codec.ErrWidth), "got %v", err)
		assert.Empty(t, bus.sent)
	})
	t.Run("partial", func(t *testing.T) {
		bus := &fakeBus{respond: func(req Frame) []Frame {
			return []Frame{ecu(0x7E8, 0x03, 0x41, 0x0C, 0x1A)}
		}}
		c := NewClient(NewLink(bus), 0)
		_, err := c.Query(PIDRPM, 2, 40*time.Millisecond)
		assert.True(t, errors.Is(err, codec.ErrPartial), "got %v", err)
	})
	t.Run("short frame", func(t *testing.T) {
		bus := &fakeBus{respond: func(req Frame) []Frame {
			f := ecu(0x7E8, 0x04, 0x41, 0x0C, 0x1A, 0x0B)
			f.Len = 4
			return []Frame{f}
		}}
		c := NewClient(NewLink(bus), 0)
		_, err := c.Query(PIDRPM, 2, 40*time.Millisecond)
		assert.True(t, errors.Is(err, codec.ErrPartial), "got %v", err)
	})
}

func TestPIDTable(t *testing.T) {
	p, ok := Lookup(PIDRPM)
	require.True(t, ok)
	assert.Equal(t, 2, p.Width)
	assert.Equal(t, 1666.75, p.Decode(0x1A0B))

	coolant, ok := Lookup(PIDCoolantTemp)
	require.True(t, ok)
	assert.Equal(t, 88.0, coolant.Decode(0x80))
	assert.Equal(t, -40.0, coolant.Decode(0))

	all := PIDs()
	assert.Greater(t, len(all), 50)
	for _, p := range all {
		assert.Contains(t, []int{1, 2, 4}, p.Width, "pid 0x%02X", p.Code)
	}

	all[0].Scale = 99
	again, _ := Lookup(all[0].Code)
	assert.NotEqual(t, 99.0, again.Scale)
}

func TestDecodeDTC(t *testing.T) {
	tests := []struct {
		hi, lo byte
		want   string
	}{
		{0x01, 0x01, "P0101"},
		{0x03, 0x00, "P0300"},
		{0x41, 0x23, "C0123"},
		{0x9F, 0xFF, "B1FFF"},
		{0xC0, 0x01, "U0001"},
	}
	for _, tt := range tests {
		got, ok := DecodeDTC(tt.hi, tt.lo)
		require.True(t, ok)
		assert.Equal(t, tt.want, got)
	}

	_, ok := DecodeDTC(0, 0)
	assert.False(t, ok)
}

func TestEncodeDTCInvertsDecode(t *testing.T) {
	for v := 1; v <= 0xFFFF; v++ {
		hi, lo := byte(v>>8), byte(v)
		code, ok := DecodeDTC(hi, lo)
		require.True(t, ok)
		h, l, err := EncodeDTC(code)
		require.NoError(t, err, code)
		require.Equal(t, [2]byte{hi, lo}, [2]byte{h, l}, code)
	}

	for _, bad := range []string{"", "P010", "X0101", "P4101", "P01G1"} {
		_, _, err := EncodeDTC(bad)
		assert.Error(t, err, bad)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "MAF Circuit Range/Performance", Describe("P0101"))
	assert.Equal(t, "Unknown Code", Describe("U3FFF"))
}

func TestScanCollectsFromAllControllers(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{
			ecu(0x7E8, 0x06, 0x43, 0x01, 0x01, 0x03, 0x00, 0x00, 0x00),
			ecu(0x7E9, 0x04, 0x43, 0x01, 0x01, 0x04, 0x20),
			ecu(0x7E8, 0x03, 0x41, 0x0D, 0x01), // stray live-data reply
		}
	}}
	tc := fastCodes(NewLink(bus))

	res := tc.Scan(Stored)
	assert.True(t, res.OK)
	assert.Equal(t, Stored, res.Kind)
	assert.Equal(t, []string{"P0101", "P0300", "P0420"}, res.Codes)
	assert.Equal(t, [8]byte{0x01, 0x03}, bus.sent[0].Data)
}

func TestScanPendingAndLimit(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		if req.Data[1] != ServicePendingDTC {
			return nil
		}
		return []Frame{ecu(0x7E8, 0x06, 0x47, 0x01, 0x71, 0x01, 0x72, 0x01, 0x74)}
	}}
	tc := fastCodes(NewLink(bus))
	tc.MaxCodes = 2

	res := tc.Scan(Pending)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"P0171", "P0172"}, res.Codes)
}

func TestScanWithoutCodes(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{ecu(0x7E8, 0x02, 0x43, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)}
	}}
	res := fastCodes(NewLink(bus)).Scan(Stored)
	assert.True(t, res.OK)
	assert.Empty(t, res.Codes)
}

func TestScanIdleBusIsRepeatable(t *testing.T) {
	tc := fastCodes(NewLink(&fakeBus{}))

	first := tc.Scan(Stored)
	second := tc.Scan(Stored)
	assert.False(t, first.OK)
	assert.False(t, second.OK)
	assert.Empty(t, first.Codes)
	assert.Equal(t, first.Codes, second.Codes)
}

func TestScanRespondingBusIsRepeatable(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{
			ecu(0x7E8, 0x06, 0x43, 0x04, 0x20, 0x00, 0x00, 0x01, 0x71), // filler pair between codes
			ecu(0x7EA, 0x04, 0x43, 0x01, 0x71, 0x03, 0x00),
			ecu(0x7E9, 0x06, 0x43, 0x04, 0x20, 0xC1, 0x00, 0x00, 0x00),
		}
	}}
	tc := fastCodes(NewLink(bus))

	first := tc.Scan(Stored)
	second := tc.Scan(Stored)
	require.True(t, first.OK)
	require.True(t, second.OK)
	assert.Equal(t, []string{"P0420", "P0171", "P0300", "U0100"}, first.Codes)
	assert.Equal(t, first.Codes, second.Codes)
	assert.Len(t, bus.sent, 2)
}

func TestScanTransmitFailure(t *testing.T) {
	res := fastCodes(NewLink(&fakeBus{txErr: errors.New("tx queue full")})).Scan(Stored)
	assert.False(t, res.OK)
	assert.Empty(t, res.Codes)
}

func TestScanIgnoresFramesOutsideAWindow(t *testing.T) {
	s := newScan(Stored, 32)
	assert.False(t, s.feed(ecu(0x7E8, 0x04, 0x43, 0x01, 0x01)))
	assert.Empty(t, s.codes)
	assert.False(t, s.echoed)
}

func TestClear(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{ecu(0x7E8, 0x01, 0x44)}
	}}
	require.NoError(t, fastCodes(NewLink(bus)).Clear())
	assert.Equal(t, [8]byte{0x01, 0x04}, bus.sent[0].Data)

	err := fastCodes(NewLink(&fakeBus{})).Clear()
	assert.True(t, errors.Is(err, codec.ErrTimeout), "got %v", err)
}

func TestMILStatus(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{ecu(0x7E8, 0x06, 0x41, 0x01, 0x83, 0x07, 0xE5, 0x00)}
	}}
	st, err := fastCodes(NewLink(bus)).MILStatus()
	require.NoError(t, err)
	assert.Equal(t, MILStatus{On: true, Count: 3}, st)
}

func TestMILStatusTruncatedReply(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{ecu(0x7E8, 0x02, 0x41, 0x01)}
	}}
	st, err := fastCodes(NewLink(bus)).MILStatus()
	assert.True(t, errors.Is(err, codec.ErrPartial), "got %v", err)
	assert.Equal(t, MILStatus{}, st)
}

func TestLinkSerializesExchanges(t *testing.T) {
	bus := &fakeBus{respond: func(req Frame) []Frame {
		return []Frame{ecu(0x7E8, 0x03, 0x41, req.Data[2], 0x10)}
	}}
	link := NewLink(bus)
	c := NewClient(link, 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Query(PIDSpeed, 1, 100*time.Millisecond)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, bus.sent, 8)
}
