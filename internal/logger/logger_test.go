package logger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
	"github.com/shaunagostinho/dashbridge/internal/charge"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

func testState(seq uint64) *bridge.State {
	return &bridge.State{
		Snapshot: &vehicle.Snapshot{
			Seq:      seq,
			At:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Vehicle:  vehicle.Vehicle{Speed: vehicle.Known(85), RPM: vehicle.Known(2750.5)},
			Charger:  vehicle.Charger{BatteryVoltage: vehicle.Known(27.4)},
			Codes:    vehicle.Codes{Stored: []string{"P0420", "P0171"}},
			CANAlive: true,
		},
		Decision:  charge.Decision{TargetAmps: 30, Safe: true, Reason: "cruising"},
		Committed: vehicle.Known(30),
	}
}

func readFiles(t *testing.T, dir string) [][][]string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, "dashbridge_*.csv"))
	require.NoError(t, err)
	var out [][][]string
	for _, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		recs, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		out = append(out, recs)
	}
	return out
}

func column(name string) int {
	for i, h := range csvHeader {
		if h == name {
			return i
		}
	}
	return -1
}

func TestRecordWritesHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir})
	l.Record(testState(7))
	l.Close()

	files := readFiles(t, dir)
	require.Len(t, files, 1)
	recs := files[0]
	require.Len(t, recs, 2)
	assert.Equal(t, csvHeader, recs[0])

	row := recs[1]
	require.Len(t, row, len(csvHeader))
	assert.Equal(t, "7", row[column("seq")])
	assert.Equal(t, "85", row[column("speed")])
	assert.Equal(t, "2750.5", row[column("rpm")])
	assert.Equal(t, "", row[column("coolant")])
	assert.Equal(t, "27.4", row[column("chg_battery_voltage")])
	assert.Equal(t, "30", row[column("committed_amps")])
	assert.Equal(t, "1", row[column("safe")])
	assert.Equal(t, "0", row[column("rs485_alive")])
	assert.Equal(t, "P0420 P0171", row[column("stored_codes")])
}

func TestRecordDisabled(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Path: dir})
	l.Record(testState(1))
	l.Close()
	assert.Empty(t, readFiles(t, dir))
	assert.False(t, l.IsEnabled())
}

func TestRecordRespectsInterval(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 1000})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Record(testState(1))
	now = now.Add(500 * time.Millisecond)
	l.Record(testState(2))
	now = now.Add(600 * time.Millisecond)
	l.Record(testState(3))
	l.Close()

	files := readFiles(t, dir)
	require.Len(t, files, 1)
	require.Len(t, files[0], 3)
	assert.Equal(t, "1", files[0][1][1])
	assert.Equal(t, "3", files[0][2][1])
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, RowsPerFile: 2})
	now := time.Unix(1000, 0)
	l.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	for i := range 5 {
		l.Record(testState(uint64(i)))
	}
	l.Close()

	files := readFiles(t, dir)
	require.Len(t, files, 3)
	total := 0
	for _, recs := range files {
		assert.Equal(t, csvHeader, recs[0])
		total += len(recs) - 1
	}
	assert.Equal(t, 5, total)
}

func TestRunStopsOnClose(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir})
	states := make(chan *bridge.State, 2)
	states <- testState(1)
	states <- testState(2)
	close(states)

	require.NoError(t, l.Run(context.Background(), states))
	files := readFiles(t, dir)
	require.Len(t, files, 1)
	assert.Len(t, files[0], 3)
}

func TestSetEnabledClosesFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir})
	l.Record(testState(1))
	l.SetEnabled(false)
	l.Record(testState(2))
	l.Close()

	files := readFiles(t, dir)
	require.Len(t, files, 1)
	assert.Len(t, files[0], 2)
}
