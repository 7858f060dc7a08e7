package rs485

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/dashbridge/internal/charger"
	"github.com/shaunagostinho/dashbridge/internal/codec"
)

func TestPortNotConnected(t *testing.T) {
	p := NewPort(PortConfig{PortPath: "/dev/ttyUSB9"})
	assert.True(t, errors.Is(p.Write([]byte{1}), codec.ErrNotConnected))
	_, err := p.ReadAvailable(time.Millisecond)
	assert.True(t, errors.Is(err, codec.ErrNotConnected))
	assert.NoError(t, p.Close())
}

func TestPortDefaults(t *testing.T) {
	cfg := PortConfig{PortPath: "/dev/ttyUSB0"}.withDefaults()
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, "N", cfg.Parity)
	assert.Equal(t, 1, cfg.StopBits)
}

func TestRTUNotConnected(t *testing.T) {
	r := NewRTU(PortConfig{PortPath: "/dev/ttyUSB9"}, 1, 50*time.Millisecond, false)
	assert.True(t, errors.Is(r.Write(charger.ReadRequest(1, 0x0203)), codec.ErrNotConnected))
	assert.Equal(t, byte(1), r.handler.SlaveId)
	assert.Equal(t, 9600, r.handler.BaudRate)
}

func TestSimChargerServesRegisterClient(t *testing.T) {
	sim := NewSimCharger(charger.DefaultUnit)
	require.NoError(t, sim.Connect())
	c := charger.NewClient(sim, charger.DefaultUnit, 20*time.Millisecond)

	v, err := c.Read(charger.BatteryVoltage)
	require.NoError(t, err)
	assert.InDelta(t, 25.5, v, 0.1)

	require.NoError(t, c.SetCurrent(12))
	assert.Equal(t, uint16(1200), sim.Register(charger.SetCurrentAddr))

	sim.SetRegister(charger.FaultWord.Addr, charger.FaultOverTemp)
	fault, err := c.ReadRegister(charger.FaultWord.Addr)
	require.NoError(t, err)
	assert.Equal(t, charger.FaultOverTemp, fault)
}

func TestSimChargerRejects(t *testing.T) {
	sim := NewSimCharger(charger.DefaultUnit)
	c := charger.NewClient(sim, charger.DefaultUnit, 20*time.Millisecond)

	_, err := c.ReadRegister(charger.StatusWord.Addr)
	assert.True(t, errors.Is(err, codec.ErrNotConnected), "closed: %v", err)

	require.NoError(t, sim.Connect())
	_, err = c.ReadRegister(0x0999)
	assert.True(t, errors.Is(err, codec.ErrUnexpected), "unmapped: %v", err)

	other := charger.NewClient(sim, 7, 20*time.Millisecond)
	_, err = other.ReadRegister(charger.StatusWord.Addr)
	assert.True(t, errors.Is(err, codec.ErrTimeout), "other unit: %v", err)
}

func TestSimChargerHeatsUnderLoad(t *testing.T) {
	clock := time.Unix(0, 0)
	sim := NewSimCharger(charger.DefaultUnit)
	sim.now = func() time.Time { return clock }
	require.NoError(t, sim.Connect())
	c := charger.NewClient(sim, charger.DefaultUnit, 20*time.Millisecond)
	require.NoError(t, c.SetCurrent(30))

	for i := 0; i < 120; i++ {
		clock = clock.Add(time.Second)
		_, err := c.ReadRegister(charger.StatusWord.Addr)
		require.NoError(t, err)
	}

	t1, err := c.Read(charger.TempT1)
	require.NoError(t, err)
	assert.Greater(t, t1, 40.0)
	amps, err := c.Read(charger.BatteryCurrent)
	require.NoError(t, err)
	assert.InDelta(t, 30, amps, 0.5)
}
