package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		name string
		val  *float64
	}{
		{`{"cmd":"scan_dtc"}`, CmdScanDTC, nil},
		{`{"cmd":"set_current","val":30.0}`, CmdSetCurrent, ptr(30)},
		{`{"cmd":"set_log_interval","val":1000}`, CmdSetInterval, ptr(1000)},
		{"set_current 12.5", CmdSetCurrent, ptr(12.5)},
		{"  CLEAR_DTC  ", CmdClearDTC, nil},
		{`set_interval "250"`, CmdSetInterval, ptr(250)},
		{"get_supported_pids", CmdGetSupportedPIDs, nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.name, cmd.Name)
			assert.Equal(t, tt.val, cmd.Val)
		})
	}
}

func TestParseCommandKeepsID(t *testing.T) {
	cmd, err := ParseCommand(`{"cmd":"shutdown","id":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, "abc", cmd.ID)
}

func TestParseCommandRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"reboot",
		"set_current",
		"set_current fast",
		"set_current 1 2",
		`{"cmd":`,
		`set_current "12`,
		"set_current NaN",
		"set_current +Inf",
		"set_interval nan",
		"set_interval -inf",
	} {
		_, err := ParseCommand(line)
		assert.Error(t, err, line)
	}

	_, err := ParseCommand(`{"cmd":"reboot"}`)
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func ptr(v float64) *float64 { return &v }
