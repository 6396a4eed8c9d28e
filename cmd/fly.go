// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/internal/bus"
	"github.com/Thermoquad/skylink/internal/link"
	"github.com/Thermoquad/skylink/internal/sim"
	"github.com/Thermoquad/skylink/internal/telemetry"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

var (
	flyDuration  int
	flyCountdown int
	flyBusLog    bool
)

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Run the onboard telemetry stack against a simulated vehicle",
	Long: `Run the onboard side of the link.

A simulated vehicle produces IMU, barometer, GPS, motor pressure, airbrake and
warning samples at sensor rate. The telemetry scheduler gates each stream to
its minimum interval, builds datagrams from a fixed slab pool and hands them to
the bounded outbound queue; a pump writes them to the connection. Datagrams
that cannot be queued in time are dropped, never retried.

Inbound bytes are decoded as uplink order and ignition packets. Recognized
commands become vehicle state requests, which are applied to the simulated
vehicle and published on the onboard message bus.

Without --port or --url the datagrams are written to a null sink.`,
	RunE: runFly,
}

func init() {
	rootCmd.AddCommand(flyCmd)
	flyCmd.Flags().IntVar(&flyDuration, "duration", 0, "Stop after this many seconds (0 runs until interrupted)")
	flyCmd.Flags().IntVar(&flyCountdown, "countdown", 10, "Seconds on the pad before automatic ignition")
	flyCmd.Flags().BoolVar(&flyBusLog, "bus-log", false, "Log state requests seen on the onboard bus")
}

func runFly(cmd *cobra.Command, args []string) error {
	var conn Connection
	connInfo := "null sink"
	if portName == "" && wsURL == "" {
		conn = newNullLink()
	} else {
		var err error
		conn, connInfo, err = OpenConnection()
		if err != nil {
			return err
		}
	}
	defer conn.Close()

	stopMetrics := startMetrics()
	defer stopMetrics()

	profile := sim.DefaultProfile()
	profile.Countdown = time.Duration(flyCountdown) * time.Second
	vehicle := sim.NewVehicle(profile, logger)

	var stateTopic bus.Topic[telemetry.StateRequest]
	busLoop := &busLoopback{enabled: flyBusLog}
	onboard, err := bus.New(busLoop, func(b *bus.Bus) error {
		var err error
		stateTopic, err = telemetry.RegisterStateRequests(b)
		if err != nil {
			return err
		}
		return bus.Handle(b, stateTopic, func(req telemetry.StateRequest) error {
			logger.Info().
				Int32("code", req.Code).
				Uint8("data_id", req.DataID).
				Uint32("ts", req.Timestamp).
				Msg("bus: state request")
			return nil
		})
	}, bus.WithLogger(logger))
	if err != nil {
		return err
	}
	busLoop.bus = onboard

	pool := skylink.NewSlabPool(cfg.Slab.Size, cfg.Slab.Count)
	queue := link.NewQueue(cfg.Link.QueueDepth)
	scheduler := telemetry.NewScheduler(cfg.Telemetry, pool, sim.NewClock(), queue, vehicle, logger)
	handler := telemetry.NewCommandHandler(cfg.Uplink.Transitions, vehicle, onboard, stateTopic, logger)

	pump := link.NewPump(queue, conn, logger)
	receiver := link.NewReceiver(conn, cfg.Link.ReadBuffer, handler, logger)
	runner := sim.NewRunner(vehicle, scheduler, logger)

	if err := pump.Start(); err != nil {
		return err
	}
	if err := receiver.Start(); err != nil {
		return err
	}
	if err := runner.Start(); err != nil {
		return err
	}

	fmt.Printf("Skylink - Onboard\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Slabs: %d x %d bytes, queue depth %d\n", cfg.Slab.Count, pool.SlabSize(), queue.Cap())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var deadline <-chan time.Time
	if flyDuration > 0 {
		deadline = time.After(time.Duration(flyDuration) * time.Second)
	}

	select {
	case <-sigs:
	case <-deadline:
	case <-receiver.Done():
		if err := receiver.Err(); err != nil {
			logger.Error().Err(err).Msg("link lost")
		}
	}

	runner.Stop()
	pump.Stop()
	conn.Close()
	receiver.Stop()

	fmt.Printf("\n--- Flight Summary ---\n")
	fmt.Printf("Packets numbered: %d\n", scheduler.PacketCount())
	fmt.Printf("Datagrams sent: %d (write failures: %d)\n", pump.Sent(), pump.Failed())
	fmt.Printf("Vehicle state: %s\n", skylink.FormatVehicleState(vehicle.State()))
	fmt.Printf("State requests: %d\n", len(vehicle.Requests()))
	fmt.Printf("Slabs in use: %d\n", pool.InUse())
	return nil
}

// busLoopback feeds frames sent on the onboard bus straight back into it,
// standing in for the inter-board link of the vehicle.
type busLoopback struct {
	bus     *bus.Bus
	enabled bool
}

func (l *busLoopback) Write(p []byte) (int, error) {
	if l.enabled && l.bus != nil {
		if err := l.bus.Receive(p); err != nil {
			logger.Warn().Err(err).Msg("bus loopback")
		}
	}
	return len(p), nil
}
