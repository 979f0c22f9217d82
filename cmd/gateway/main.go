// Command gateway runs the stick_gateway IoT edge gateway process: it
// wires the concurrency fabric, starts every sensor, processor, security,
// network, and monitor task, and blocks until a shutdown signal is
// received or a fatal startup error occurs.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stickman-iot/gateway/internal/config"
	"github.com/stickman-iot/gateway/internal/fabric"
	"github.com/stickman-iot/gateway/internal/monitor"
	"github.com/stickman-iot/gateway/internal/network"
	"github.com/stickman-iot/gateway/internal/processor"
	"github.com/stickman-iot/gateway/internal/security"
	"github.com/stickman-iot/gateway/internal/sensors"
)

// scanConfigFlag extracts -config/--config's value from argv without
// involving the flag package, so the YAML overlay can be loaded before
// BindFlags registers the flags whose defaults it will override.
func scanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()

	if err := cfg.LoadYAML(scanConfigFlag(os.Args[1:])); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.String("config", "", "path to an optional YAML config overlay (consumed before flag parsing)")
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	fab := fabric.New(fabric.Config{
		SensorQueueLen:  cfg.SensorQueueLen,
		NetworkQueueLen: cfg.NetworkQueueLen,
	})

	log := zerolog.New(zerolog.ConsoleWriter{Out: fab.Console, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	mon := monitor.New(fab, log, cfg)
	sec := security.New(fab, log)
	sec.OnStats(mon.Metrics().SetSecurityStats)

	proc := processor.New(fab, log, cfg.NumTempSensors, cfg.NumHumiditySensors)
	proc.OnProcessed(mon.RecordProcessed)
	proc.OnDropped(mon.RecordDropped)

	net := network.New(fab, log, cfg)

	var producers []func()
	for id := 0; id < cfg.NumTempSensors; id++ {
		p := sensors.NewTemperature(fab, log, uint8(id))
		producers = append(producers, p.Run)
	}
	for id := 0; id < cfg.NumHumiditySensors; id++ {
		p := sensors.NewHumidity(fab, log, uint8(id))
		producers = append(producers, p.Run)
	}
	motion := sensors.NewMotion(fab, log)
	producers = append(producers, motion.Run)

	g := new(errgroup.Group)
	start := func(fn func()) {
		g.Go(func() error {
			fn()
			return nil
		})
	}

	for _, p := range producers {
		start(p)
	}
	start(proc.Run)
	start(sec.Run)
	start(net.Run)
	start(mon.Run)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		fab.Events.Set(fabric.EventShutdown)
	}()

	return g.Wait()
}
