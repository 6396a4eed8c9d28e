// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

var (
	uplinkIgnite  bool
	uplinkRaw     string
	uplinkCount   int
	uplinkTimeout time.Duration
)

var uplinkCmd = &cobra.Command{
	Use:   "uplink [state]",
	Short: "Send an order or ignition command to the vehicle",
	Long: `Send one uplink command and watch the downlink for the response.

The state argument names the requested vehicle state:
  idle, open-fill-valve, close-fill-valve, open-purge-valve, disconnect-hose

Use --ignite to send the ignition command instead of an order. Use --raw to
send an order carrying an arbitrary code; the vehicle ignores codes it does
not recognize.

After sending, STATUS datagrams are printed until the timeout so the effect
of the command can be observed.

Exit codes:
  0 - Command sent
  1 - Send failed
  2 - Connection error

Examples:
  skylink uplink open-fill-valve --port /dev/ttyUSB0
  skylink uplink --ignite --url ws://ground.local/link`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUplink,
}

func init() {
	rootCmd.AddCommand(uplinkCmd)
	uplinkCmd.Flags().BoolVar(&uplinkIgnite, "ignite", false, "Send the ignition command")
	uplinkCmd.Flags().StringVar(&uplinkRaw, "raw", "", "Send an order with a raw code (e.g. 0x07)")
	uplinkCmd.Flags().IntVar(&uplinkCount, "count", 1, "Number of times to send the command")
	uplinkCmd.Flags().DurationVar(&uplinkTimeout, "timeout", 3*time.Second, "How long to watch for STATUS datagrams after sending")
}

// uplinkDatagram builds the datagram selected by the command line
func uplinkDatagram(args []string, ts, packetNumber uint32) (*skylink.Datagram, string, error) {
	switch {
	case uplinkIgnite:
		return skylink.NewIgnitionDatagram(ts, packetNumber), "ignition", nil
	case uplinkRaw != "":
		code, err := strconv.ParseUint(uplinkRaw, 0, 8)
		if err != nil {
			return nil, "", errors.NotValidf("raw code %q", uplinkRaw)
		}
		return skylink.NewRawCommandDatagram(skylink.TypeOrder, ts, packetNumber, uint8(code)),
			fmt.Sprintf("order 0x%02X", code), nil
	case len(args) == 1:
		state, err := skylink.ParseVehicleState(args[0])
		if err != nil {
			return nil, "", errors.Annotate(err, "uplink")
		}
		return skylink.NewOrderDatagram(ts, packetNumber, state),
			"order " + skylink.FormatVehicleState(state), nil
	}
	return nil, "", errors.New("a state, --ignite or --raw is required")
}

func runUplink(cmd *cobra.Command, args []string) error {
	// Validate before opening the link
	if _, _, err := uplinkDatagram(args, 0, 0); err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Skylink - Uplink\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	start := time.Now()
	for i := 0; i < uplinkCount; i++ {
		ts := uint32(time.Since(start).Milliseconds())
		d, what, err := uplinkDatagram(args, ts, uint32(i))
		if err != nil {
			return err
		}
		n, err := conn.Write(d.Bytes())
		if err != nil {
			fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
			os.Exit(1)
		}
		observability.RecordLinkBytes("tx", n)
		fmt.Printf("Sent %s (%d bytes): % X\n", what, n, d.Bytes())
		d.Release()

		if i < uplinkCount-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	if uplinkTimeout <= 0 {
		return nil
	}

	fmt.Printf("\nWatching STATUS datagrams for %s...\n", uplinkTimeout)
	packets := make(chan *skylink.Packet, 16)
	linkDone := make(chan error, 1)
	go func() {
		linkDone <- decodeLink(conn, linkEvents{
			Packet: func(p *skylink.Packet) {
				if p.Type() == skylink.TypeStatus {
					packets <- p
				}
			},
		})
	}()

	deadline := time.After(uplinkTimeout)
	for {
		select {
		case p := <-packets:
			fmt.Print(skylink.FormatPacket(p))
		case err := <-linkDone:
			return err
		case <-deadline:
			return nil
		}
	}
}
