// Package hostlink speaks the line protocol of the companion host: one
// JSON state object per poll cycle out, JSON or text commands in, one
// JSON acknowledgement per command.
package hostlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
)

// Config selects the serial port the host is attached to.
type Config struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// Bridge is the part of the runner the link needs.
type Bridge interface {
	Subscribe(buf int) (<-chan *bridge.State, func())
	Do(ctx context.Context, cmd bridge.Command) (bridge.Reply, error)
}

// Link serves one host on a serial port, reopening it after errors.
type Link struct {
	cfg Config
	br  Bridge

	mu   sync.Mutex
	port serial.Port
}

// New returns a link. The port is opened by Run.
func New(cfg Config, br Bridge) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &Link{cfg: cfg, br: br}
}

func (l *Link) Connect() error {
	port, err := serial.Open(l.cfg.PortPath, &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("hostlink: failed to open %s: %w", l.cfg.PortPath, err)
	}
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
	log.Printf("[hostlink] opened %s at %d baud", l.cfg.PortPath, l.cfg.BaudRate)
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// Run keeps the host port open and served until ctx is done.
func (l *Link) Run(ctx context.Context) error {
	delay := time.Second
	for ctx.Err() == nil {
		if err := l.Connect(); err != nil {
			log.Printf("[hostlink] %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, time.Minute)
			continue
		}
		delay = time.Second

		l.mu.Lock()
		port := l.port
		l.mu.Unlock()

		// Closing the port unblocks the reader when ctx ends.
		stop := context.AfterFunc(ctx, func() { l.Close() })
		err := l.Serve(ctx, port)
		stop()
		l.Close()
		if err != nil && ctx.Err() == nil {
			log.Printf("[hostlink] session ended: %v", err)
		}
	}
	return nil
}

// Serve runs the protocol on rw until ctx is done or reading fails.
func (l *Link) Serve(ctx context.Context, rw io.ReadWriter) error {
	states, cancel := l.br.Subscribe(4)
	defer cancel()

	// Stops the reader when Serve returns for any reason.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(rw)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	w := bufio.NewWriter(rw)
	write := func(b []byte) error {
		if _, err := w.Write(b); err != nil {
			return err
		}
		return w.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case st := <-states:
			b, err := EncodeState(st)
			if err != nil {
				log.Printf("[hostlink] encode state: %v", err)
				continue
			}
			if err := write(b); err != nil {
				return fmt.Errorf("hostlink: write: %w", err)
			}
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := write(encodeReply(l.execute(ctx, line))); err != nil {
				return fmt.Errorf("hostlink: write: %w", err)
			}
		}
	}
}

func (l *Link) execute(ctx context.Context, line string) bridge.Reply {
	cmd, err := bridge.ParseCommand(line)
	if err != nil {
		return bridge.Reply{"error": err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	reply, err := l.br.Do(ctx, cmd)
	if err != nil {
		return bridge.Reply{"error": err.Error()}
	}
	return reply
}
