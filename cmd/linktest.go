// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/pkg/skylink"
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw link stability",
	Long: `Listen on the link without sending anything.

Received chunks are logged with their size, and the bytes are fed through the
datagram decoder so the result includes how much of the traffic verified.
Useful for debugging radio or bridge stability issues.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLinkTest,
}

var (
	linkTestDuration time.Duration
	linkTestQuiet    bool
)

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().DurationVar(&linkTestDuration, "duration", 30*time.Second, "Test duration")
	linkTestCmd.Flags().BoolVar(&linkTestQuiet, "quiet", false, "Do not print every received chunk")
}

// linkTally accumulates what the reader goroutine saw. The decoder is only
// touched from the reader goroutine.
type linkTally struct {
	mu      sync.Mutex
	stats   *skylink.Statistics
	decoder *skylink.Decoder
	skipped int
	bytes   int
	chunks  int
	last    time.Time
}

func (lt *linkTally) chunk(data []byte, quiet bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.bytes += len(data)
	lt.chunks++
	lt.skipped = lt.decoder.Skipped()
	lt.last = time.Now()
	if !quiet {
		fmt.Printf("[%s] %3d bytes: % X\n", lt.last.Format("15:04:05.000"), len(data), data)
	}
}

func (lt *linkTally) update(p *skylink.Packet, err error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.skipped = lt.decoder.Skipped()
	if p != nil {
		lt.stats.Update(p, nil, skylink.ValidatePacket(p))
		return
	}
	lt.stats.Update(nil, err, nil)
}

func (lt *linkTally) report(elapsed time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	fmt.Printf("\n--- Link Test Results ---\n")
	fmt.Printf("Duration:  %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Chunks:    %d\n", lt.chunks)
	fmt.Printf("Bytes:     %d (%d outside datagrams)\n", lt.bytes, lt.skipped)
	fmt.Print(lt.stats.String())
}

func (lt *linkTally) silence() time.Duration {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.last.IsZero() {
		return 0
	}
	return time.Since(lt.last)
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Skylink - Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %s\n\n", linkTestDuration)

	tally := &linkTally{stats: skylink.NewStatistics(), decoder: skylink.NewDecoder()}
	linkDone := make(chan error, 1)
	go func() {
		linkDone <- decodeLink(conn, linkEvents{
			Decoder: tally.decoder,
			Chunk:   func(data []byte) { tally.chunk(data, linkTestQuiet) },
			Packet:  func(p *skylink.Packet) { tally.update(p, nil) },
			Error:   func(err error) { tally.update(nil, err) },
		})
	}()

	start := time.Now()
	deadline := time.After(linkTestDuration)
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case err := <-linkDone:
			if err == nil {
				err = ErrConnectionClosed
			}
			fmt.Printf("\n[%s] Link lost: %v\n", time.Now().Format("15:04:05.000"), err)
			tally.report(time.Since(start))
			fmt.Printf("Result: FAILED (link lost)\n")
			os.Exit(1)

		case <-heartbeat.C:
			remaining := linkTestDuration - time.Since(start)
			fmt.Printf("[%s] connected, quiet for %s (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), tally.silence().Round(time.Millisecond), remaining.Seconds())

		case <-deadline:
			tally.report(time.Since(start))
			fmt.Printf("Result: PASSED (link stable)\n")
			return nil
		}
	}
}
