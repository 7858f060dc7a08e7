package logger

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

// Logger records published bridge states to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	maxRows  int

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
	now    func() time.Time
}

// Config holds logger configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Path        string `yaml:"path" json:"path"`
	IntervalMs  int    `yaml:"interval_ms" json:"intervalMs"`
	RowsPerFile int    `yaml:"rows_per_file" json:"rowsPerFile"`
}

const (
	maxRowsPerFile = 100_000 // ~14 hrs at 2 Hz
)

var csvHeader = buildHeader()

func buildHeader() []string {
	h := []string{"timestamp", "seq"}
	for _, f := range (vehicle.Vehicle{}).Fields() {
		h = append(h, f.Name)
	}
	for _, f := range (vehicle.Charger{}).Fields() {
		h = append(h, "chg_"+f.Name)
	}
	return append(h,
		"target_amps", "committed_amps", "safe", "reason",
		"can_alive", "rs485_alive", "stored_codes", "pending_codes",
	)
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/dashbridge"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 0 {
		interval = 0
	}
	rows := cfg.RowsPerFile
	if rows <= 0 {
		rows = maxRowsPerFile
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		maxRows:  rows,
		now:      time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Run records every state received until ctx is done or states closes.
func (l *Logger) Run(ctx context.Context, states <-chan *bridge.State) error {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			l.Record(st)
		}
	}
}

// Record writes a state if the minimum interval has elapsed.
func (l *Logger) Record(st *bridge.State) {
	if st == nil || st.Snapshot == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := l.now()
	if !l.lastTs.IsZero() && now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(st)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	// Nanoseconds keep names unique when rotation happens within a second.
	filename := fmt.Sprintf("dashbridge_%s.csv", now.Format("2006-01-02_150405.000000000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(st *bridge.State) []string {
	s := st.Snapshot
	row := make([]string, 0, len(csvHeader))
	row = append(row, s.At.Format(time.RFC3339Nano), strconv.FormatUint(s.Seq, 10))
	for _, f := range s.Vehicle.Fields() {
		row = append(row, cell(f.Reading))
	}
	for _, f := range s.Charger.Fields() {
		row = append(row, cell(f.Reading))
	}
	return append(row,
		fmt.Sprintf("%.2f", st.Decision.TargetAmps),
		cell(st.Committed),
		boolStr(st.Decision.Safe),
		st.Decision.Reason,
		boolStr(s.CANAlive),
		boolStr(s.RegisterAlive),
		strings.Join(s.Codes.Stored, " "),
		strings.Join(s.Codes.Pending, " "),
	)
}

// cell leaves unknown readings empty.
func cell(r vehicle.Reading) string {
	if !r.Valid {
		return ""
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
