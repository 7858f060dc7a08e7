// Package bridge drives the poll cycle: aggregate, decide, commit, publish.
// It also executes operator commands between cycles.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/charge"
	"github.com/shaunagostinho/dashbridge/internal/obd"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

// ErrShutdown is returned by Run after a shutdown command.
var ErrShutdown = errors.New("bridge: shutdown requested")

// Interval bounds accepted by set_interval.
const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = time.Minute
)

// TroubleCodeService is satisfied by *obd.TroubleCodes.
type TroubleCodeService interface {
	Scan(kind obd.ScanKind) obd.ScanResult
	Clear() error
	MILStatus() (obd.MILStatus, error)
}

// CurrentSetter is satisfied by *charger.Client.
type CurrentSetter interface {
	SetCurrent(amps float64) error
}

// Config holds the runner settings.
type Config struct {
	Interval    time.Duration
	Limits      charge.Limits
	ScanOnStart bool // read stored codes before the first cycle

	// LimitsFrom, when set, is consulted every cycle instead of Limits.
	LimitsFrom func() charge.Limits
}

type request struct {
	cmd   Command
	reply chan Reply
}

// Runner owns the aggregator, the controller state and the poll interval.
// All bus traffic happens on the goroutine running Run.
type Runner struct {
	agg    *vehicle.Aggregator
	codes  TroubleCodeService
	setter CurrentSetter
	limits charge.Limits
	cfg    Config

	cmds   chan request
	latest atomic.Pointer[State]

	subMu sync.Mutex
	subs  map[chan *State]struct{}

	// Owned by the Run goroutine.
	interval      time.Duration
	lastCommitted vehicle.Reading
	override      vehicle.Reading
	snap          *vehicle.Snapshot
	canUp, regUp  bool
}

// NewRunner wires a runner. A zero interval selects 500 ms.
func NewRunner(agg *vehicle.Aggregator, codes TroubleCodeService, setter CurrentSetter, cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Runner{
		agg:      agg,
		codes:    codes,
		setter:   setter,
		limits:   cfg.Limits,
		cfg:      cfg,
		cmds:     make(chan request),
		subs:     make(map[chan *State]struct{}),
		interval: cfg.Interval,
	}
}

// Run polls until ctx is cancelled or a shutdown command arrives.
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("[bridge] polling every %v", r.interval)
	if r.cfg.ScanOnStart {
		r.scanStored()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cycle()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.cycle()
		case req := <-r.cmds:
			reply := r.execute(req.cmd, ticker)
			if req.cmd.ID != "" {
				reply["id"] = req.cmd.ID
			}
			req.reply <- reply
			if req.cmd.Name == CmdShutdown {
				return ErrShutdown
			}
		}
	}
}

// Do hands cmd to the Run goroutine and waits for its reply.
func (r *Runner) Do(ctx context.Context, cmd Command) (Reply, error) {
	req := request{cmd: cmd, reply: make(chan Reply, 1)}
	select {
	case r.cmds <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Latest returns the most recently published state, or nil before the
// first cycle completes.
func (r *Runner) Latest() *State {
	return r.latest.Load()
}

// Subscribe returns a channel receiving every published state. States are
// dropped for a subscriber whose buffer is full. Call cancel to stop.
func (r *Runner) Subscribe(buf int) (<-chan *State, func()) {
	ch := make(chan *State, buf)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, ch)
			r.subMu.Unlock()
		})
	}
}

func (r *Runner) cycle() {
	r.snap = r.agg.PollCycle()
	r.logLiveness(r.snap)
	d := r.commit()
	r.publish(d)
}

// commit evaluates the latest snapshot and writes the setpoint when it
// changed. lastCommitted only moves on an acknowledged write, so a failed
// write is retried on the next cycle.
func (r *Runner) commit() charge.Decision {
	limits := r.limits
	if r.cfg.LimitsFrom != nil {
		limits = r.cfg.LimitsFrom()
	}
	d := limits.DecideWithOverride(r.snap, r.lastCommitted, r.override)
	if !d.Commit {
		return d
	}
	if err := r.setter.SetCurrent(d.TargetAmps); err != nil {
		log.Printf("[bridge] set current %.1f A failed: %v", d.TargetAmps, err)
		return d
	}
	log.Printf("[bridge] charge current %.1f A (%s)", d.TargetAmps, d.Reason)
	r.lastCommitted = vehicle.Known(d.TargetAmps)
	return d
}

func (r *Runner) publish(d charge.Decision) {
	st := &State{
		Snapshot:   r.snap,
		Decision:   d,
		Committed:  r.lastCommitted,
		Override:   r.override,
		IntervalMs: r.interval.Milliseconds(),
	}
	r.latest.Store(st)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (r *Runner) logLiveness(s *vehicle.Snapshot) {
	if s.CANAlive != r.canUp {
		r.canUp = s.CANAlive
		log.Printf("[bridge] CAN bus alive=%v", r.canUp)
	}
	if s.RegisterAlive != r.regUp {
		r.regUp = s.RegisterAlive
		log.Printf("[bridge] RS-485 bus alive=%v", r.regUp)
	}
}

func (r *Runner) execute(cmd Command, ticker *time.Ticker) Reply {
	if needsValue[cmd.Name] && cmd.Val == nil {
		return Reply{"error": cmd.Name + " needs a value"}
	}
	if cmd.Val != nil && !finite(*cmd.Val) {
		return Reply{"error": cmd.Name + " needs a finite value"}
	}
	switch cmd.Name {
	case CmdScanDTC:
		res := r.scanStored()
		return Reply{"dtc_scan": scanReply(res)}

	case CmdScanPending:
		res := r.codes.Scan(obd.Pending)
		r.agg.SetCodes(res)
		return Reply{"dtc_pending": scanReply(res)}

	case CmdClearDTC:
		if err := r.codes.Clear(); err != nil {
			log.Printf("[bridge] clear codes: %v", err)
			return Reply{"dtc_clear": "failed"}
		}
		r.agg.ClearCodes(time.Now())
		return Reply{"dtc_clear": "ok"}

	case CmdSetCurrent:
		return r.setOverride(*cmd.Val)

	case CmdSetInterval:
		d := time.Duration(*cmd.Val * float64(time.Millisecond))
		d = min(max(d, MinInterval), MaxInterval)
		r.interval = d
		ticker.Reset(d)
		log.Printf("[bridge] poll interval %v", d)
		return Reply{"log_interval": d.Milliseconds()}

	case CmdGetSupportedPIDs:
		pids := obd.PIDs()
		list := make([]map[string]string, len(pids))
		for i, p := range pids {
			list[i] = map[string]string{
				"pid":  fmt.Sprintf("0x%02X", p.Code),
				"name": p.Name,
				"unit": p.Unit,
			}
		}
		return Reply{"supported_pids": list}

	case CmdShutdown:
		log.Printf("[bridge] shutdown requested")
		return Reply{"shutdown": "acknowledged"}
	}
	return Reply{"error": fmt.Sprintf("unknown command %q", cmd.Name)}
}

func (r *Runner) scanStored() obd.ScanResult {
	res := r.codes.Scan(obd.Stored)
	r.agg.SetCodes(res)
	if mil, err := r.codes.MILStatus(); err == nil {
		r.agg.SetMIL(mil)
	}
	if res.OK {
		log.Printf("[bridge] %d stored trouble code(s) %v", len(res.Codes), res.Codes)
	}
	return res
}

// setOverride installs a manual setpoint and applies it immediately to the
// last snapshot. A negative value returns control to the controller.
func (r *Runner) setOverride(amps float64) Reply {
	if !finite(amps) {
		return Reply{"set_current": "failed", "error": "not a finite value"}
	}
	if amps < 0 {
		r.override = vehicle.Unknown
	} else {
		r.override = vehicle.Known(amps)
	}
	if r.snap == nil {
		return Reply{"set_current": "pending", "val": amps}
	}

	d := r.commit()
	r.publish(d)
	if !r.lastCommitted.Valid || r.lastCommitted.Value != d.TargetAmps {
		return Reply{"set_current": "failed", "val": d.TargetAmps}
	}
	rep := Reply{"set_current": "ok", "val": d.TargetAmps}
	if !d.Safe {
		rep["reason"] = d.Reason
	}
	return rep
}

func scanReply(res obd.ScanResult) map[string]any {
	return map[string]any{
		"ok":    res.OK,
		"count": len(res.Codes),
		"codes": res.Codes,
	}
}
