// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/pkg/skylink"
)

// packet_test exit codes
const (
	exitReceived  = 0
	exitTimeout   = 1
	exitLinkError = 2
)

var packetTestTimeout time.Duration

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Wait for one valid datagram",
	Long: `Listen until a datagram with a good checksum arrives, or give up.

Bytes that cannot start a datagram are skipped while the decoder looks for
the first type tag and marker.

Exit codes:
  0 - Datagram received before timeout
  1 - Timeout reached without receiving a valid datagram
  2 - Connection error

Useful for checking that the ground radio hears the vehicle.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().DurationVar(&packetTestTimeout, "timeout", 10*time.Second, "How long to wait for a datagram")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(exitLinkError)
	}
	defer conn.Close()

	fmt.Printf("Skylink - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Waiting up to %s for a valid datagram...\n\n", packetTestTimeout)

	type result struct {
		packet       *skylink.Packet
		skipped      int
		decodeErrors int
	}
	found := make(chan result, 1)
	linkDone := make(chan error, 1)

	go func() {
		var res result
		decoder := skylink.NewDecoder()
		linkDone <- decodeLink(conn, linkEvents{
			Decoder: decoder,
			Error:   func(error) { res.decodeErrors++ },
			Packet: func(p *skylink.Packet) {
				if res.packet != nil {
					return
				}
				res.packet = p
				res.skipped = decoder.Skipped()
				found <- res
			},
		})
	}()

	select {
	case res := <-found:
		p := res.packet
		fmt.Printf("SUCCESS: %s datagram (0x%02X)\n", skylink.FormatMessageType(p.Type()), p.Type())
		fmt.Printf("  Payload: %d bytes, CRC 0x%04X\n", p.Length(), p.CRC())
		if frame, err := p.Frame(); err == nil {
			fmt.Printf("  Packet number: %d\n", skylink.FramePacketNumber(frame))
		}
		if res.skipped > 0 || res.decodeErrors > 0 {
			fmt.Printf("  Before sync: %d bytes skipped, %d decode errors\n", res.skipped, res.decodeErrors)
		}
		os.Exit(exitReceived)

	case err := <-linkDone:
		if err == nil {
			err = ErrConnectionClosed
		}
		fmt.Fprintf(os.Stderr, "Link error: %v\n", err)
		os.Exit(exitLinkError)

	case <-time.After(packetTestTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: no valid datagram within %s\n", packetTestTimeout)
		os.Exit(exitTimeout)
	}

	return nil
}
