package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
	"github.com/shaunagostinho/dashbridge/internal/canbus"
	"github.com/shaunagostinho/dashbridge/internal/charger"
	"github.com/shaunagostinho/dashbridge/internal/hostlink"
	"github.com/shaunagostinho/dashbridge/internal/logger"
	"github.com/shaunagostinho/dashbridge/internal/metrics"
	"github.com/shaunagostinho/dashbridge/internal/mqtt"
	"github.com/shaunagostinho/dashbridge/internal/obd"
	"github.com/shaunagostinho/dashbridge/internal/rs485"
	"github.com/shaunagostinho/dashbridge/internal/server"
	"github.com/shaunagostinho/dashbridge/internal/vehicle"
)

func main() {
	configPath := flag.String("config", "/etc/dashbridge/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated ECU and charger")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] dashbridge starting")

	cfg := server.LoadConfig(*configPath)

	if *demo {
		cfg.CAN.Type = "demo"
		cfg.Charger.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// CAN side
	var canTr interface {
		obd.Transport
		connectable
		Name() string
	}
	switch cfg.CAN.Type {
	case "socketcan":
		canTr = canbus.NewSocketCAN(cfg.CAN.Interface)
	default:
		canTr = canbus.NewSimECU()
	}
	defer canTr.Close()

	// Both buses start degraded and come up in the background.
	go connectWithRetry(ctx, canTr.Name(), canTr, 10)

	link := obd.NewLink(canTr)
	pids := obd.NewClient(link, cfg.CAN.QueryTimeout())
	codes := obd.NewTroubleCodes(link)
	if cfg.CAN.ScanWindowMs > 0 {
		codes.ScanWindow = time.Duration(cfg.CAN.ScanWindowMs) * time.Millisecond
	}
	if cfg.CAN.ClearWindowMs > 0 {
		codes.ClearWindow = time.Duration(cfg.CAN.ClearWindowMs) * time.Millisecond
	}
	if cfg.CAN.MaxCodes > 0 {
		codes.MaxCodes = cfg.CAN.MaxCodes
	}

	// Charger side
	unit := byte(cfg.Charger.Unit)
	var chgTr interface {
		charger.Transport
		connectable
		Name() string
	}
	switch cfg.Charger.Type {
	case "serial":
		chgTr = rs485.NewPort(cfg.Charger.Port)
	case "rtu":
		chgTr = rs485.NewRTU(cfg.Charger.Port, unit, cfg.Charger.Timeout(), cfg.Charger.Debug)
	default:
		chgTr = rs485.NewSimCharger(unit)
	}
	defer chgTr.Close()
	go connectWithRetry(ctx, chgTr.Name(), chgTr, 10)

	regs := charger.NewClient(chgTr, unit, cfg.Charger.Timeout())

	agg := vehicle.NewAggregator(pids, regs, cfg.CAN.QueryTimeout())
	runner := bridge.NewRunner(agg, codes, regs, bridge.Config{
		Interval:    cfg.Bridge.Interval(),
		ScanOnStart: cfg.Bridge.ScanOnStart,
		LimitsFrom:  cfg.ChargeLimits,
	})

	g, gctx := errgroup.WithContext(ctx)

	var exporter *metrics.Exporter
	if cfg.Server.Metrics {
		exporter = metrics.New()
		states, stop := runner.Subscribe(8)
		g.Go(func() error {
			defer stop()
			return exporter.Run(gctx, states)
		})
	}

	if cfg.Logging.Enabled {
		csvLog := logger.New(cfg.Logging)
		states, stop := runner.Subscribe(8)
		g.Go(func() error {
			defer stop()
			return csvLog.Run(gctx, states)
		})
	}

	if cfg.MQTT.Enabled {
		mq := mqtt.New(cfg.MQTT, runner)
		go connectWithRetry(gctx, mq.Name(), mq, 10)
		g.Go(func() error {
			defer mq.Close()
			return mq.Run(gctx)
		})
	}

	if cfg.HostLink.Enabled {
		host := hostlink.New(cfg.HostLink, runner)
		g.Go(func() error { return host.Run(gctx) })
	}

	var handler *server.Server
	if exporter != nil {
		handler = server.New(cfg, runner, exporter.Handler())
	} else {
		handler = server.New(cfg, runner, nil)
	}
	g.Go(func() error { return handler.Run(gctx) })

	g.Go(func() error {
		err := runner.Run(gctx)
		if errors.Is(err, bridge.ErrShutdown) {
			log.Println("[main] shutdown requested")
			cancel()
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Printf("[main] exited: %v", err)
		os.Exit(1)
	}
	log.Println("[main] stopped")
}

// connectable is satisfied by the bus transports and the MQTT client.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Printf("[%s] connected (attempt %d)", name, attempt+1)
			return
		}
		attempt++
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
}
