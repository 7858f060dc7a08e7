package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Command names accepted on every command input.
const (
	CmdScanDTC          = "scan_dtc"
	CmdScanPending      = "scan_pending"
	CmdClearDTC         = "clear_dtc"
	CmdSetCurrent       = "set_current"
	CmdSetInterval      = "set_interval"
	CmdGetSupportedPIDs = "get_supported_pids"
	CmdShutdown         = "shutdown"
)

var aliases = map[string]string{
	"set_log_interval": CmdSetInterval,
}

var needsValue = map[string]bool{
	CmdScanDTC:          false,
	CmdScanPending:      false,
	CmdClearDTC:         false,
	CmdSetCurrent:       true,
	CmdSetInterval:      true,
	CmdGetSupportedPIDs: false,
	CmdShutdown:         false,
}

// ErrUnknownCommand is returned by ParseCommand for unrecognized names.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one operator request. Val carries the argument of
// set_current (amps) and set_interval (milliseconds). ID is echoed in the
// reply by inputs that correlate requests and replies.
type Command struct {
	Name string   `json:"cmd"`
	Val  *float64 `json:"val,omitempty"`
	ID   string   `json:"id,omitempty"`
}

// Reply is the acknowledgement of a command, sent back as one JSON object.
type Reply map[string]any

// ParseCommand accepts a JSON object such as {"cmd":"set_current","val":30}
// or shell-style text such as `set_current 30`.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, errors.New("empty command")
	}

	var cmd Command
	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			return Command{}, fmt.Errorf("parse command: %w", err)
		}
	} else {
		fields, err := shlex.Split(line)
		if err != nil {
			return Command{}, fmt.Errorf("parse command: %w", err)
		}
		if len(fields) == 0 {
			return Command{}, errors.New("empty command")
		}
		if len(fields) > 2 {
			return Command{}, fmt.Errorf("parse command %q: too many arguments", line)
		}
		cmd.Name = fields[0]
		if len(fields) == 2 {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return Command{}, fmt.Errorf("parse command %q: %w", line, err)
			}
			cmd.Val = &v
		}
	}

	cmd.Name = strings.ToLower(cmd.Name)
	if canonical, ok := aliases[cmd.Name]; ok {
		cmd.Name = canonical
	}
	want, ok := needsValue[cmd.Name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	if want && cmd.Val == nil {
		return Command{}, fmt.Errorf("%s needs a value", cmd.Name)
	}
	if cmd.Val != nil && !finite(*cmd.Val) {
		return Command{}, fmt.Errorf("%s: value %v is not a finite number", cmd.Name, *cmd.Val)
	}
	return cmd, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
