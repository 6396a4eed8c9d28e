// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/pkg/skylink"
)

var (
	recordOutput   string
	recordDuration time.Duration
	replayRealtime bool
	replayStats    bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record received datagrams to a CBOR flight record",
	Long: `Decode datagrams from the link and append each one to a flight record.

The record is a sequence of CBOR items holding the arrival time, type, payload
and checksum of every valid datagram. Use replay to read it back.`,
	RunE: runRecord,
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Print the datagrams of a CBOR flight record",
	Long: `Read a flight record written by record and print every datagram.

With --realtime the original spacing between datagrams is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(replayCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "flight.cbor", "Flight record file")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 records until interrupted)")
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Keep the original timing between datagrams")
	replayCmd.Flags().BoolVar(&replayStats, "stats", true, "Print statistics at the end")
}

func runRecord(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Create(recordOutput)
	if err != nil {
		return errors.Annotate(err, "record")
	}
	defer f.Close()

	rw, err := skylink.NewRecordWriter(f)
	if err != nil {
		return err
	}

	fmt.Printf("Skylink - Flight Recorder\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Output: %s\n", recordOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	packets := make(chan *skylink.Packet, 64)
	linkDone := make(chan error, 1)
	go func() {
		linkDone <- decodeLink(conn, linkEvents{
			Packet: func(p *skylink.Packet) { packets <- p },
			Error:  func(err error) { logger.Debug().Err(err).Msg("decode") },
		})
	}()

	sigs, stopSignals := interrupted()
	defer stopSignals()

	var deadline <-chan time.Time
	if recordDuration > 0 {
		deadline = time.After(recordDuration)
	}

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()

	summary := func() {
		fmt.Printf("\nRecorded %d datagrams to %s\n", rw.Count(), recordOutput)
	}
	for {
		select {
		case p := <-packets:
			if err := rw.Write(p); err != nil {
				return err
			}
		case <-progress.C:
			fmt.Printf("[%s] %d datagrams recorded\n", time.Now().Format("15:04:05"), rw.Count())
		case err := <-linkDone:
			summary()
			return err
		case <-sigs:
			summary()
			return nil
		case <-deadline:
			summary()
			return nil
		}
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Annotate(err, "replay")
	}
	defer f.Close()

	records, err := skylink.ReadRecords(f)
	if err != nil {
		// Keep what was readable from a truncated record
		logger.Warn().Err(err).Int("records", len(records)).Msg("flight record truncated")
	}

	stats := skylink.NewStatistics()
	var prev time.Time
	for _, rec := range records {
		p := rec.Packet()
		if replayRealtime && !prev.IsZero() {
			if gap := p.Timestamp().Sub(prev); gap > 0 {
				time.Sleep(gap)
			}
		}
		prev = p.Timestamp()

		validation := skylink.ValidatePacket(p)
		stats.Update(p, nil, validation)
		fmt.Print(skylink.FormatPacket(p))
		for _, v := range validation {
			fmt.Printf("  [ANOMALY] %s\n", v.Message)
		}
	}

	if replayStats {
		fmt.Printf("\n%s", stats.String())
	}
	return nil
}
