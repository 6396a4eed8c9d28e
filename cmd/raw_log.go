// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/pkg/skylink"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw datagram log in human-readable format",
	Long: `Continuously decode and display datagrams as they arrive.

Each datagram is shown with its receive time, type and decoded fields.
Checksum failures and marker errors are printed inline. Use --hex to also
dump the wire bytes of every datagram.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Dump the wire bytes of each datagram")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Skylink - Raw Datagram Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	err = decodeLink(conn, linkEvents{
		Packet: func(p *skylink.Packet) {
			fmt.Print(skylink.FormatPacket(p))
			if rawLogHex {
				fmt.Printf("  wire: % X\n", p.Bytes())
			}
		},
		Error: func(err error) {
			fmt.Printf("[ERROR] %v\n", err)
		},
	})
	if err != nil {
		return err
	}
	logger.Info().Msg("link closed")
	return nil
}
