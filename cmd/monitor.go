// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

var (
	showAll       bool
	statsInterval time.Duration
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor telemetry and send uplink commands",
	Long: `Watch the downlink and command the vehicle from an interactive terminal UI.

The monitor validates each datagram and tracks:
  - CRC errors, marker errors and undecodable payloads
  - Anomalous values (non-finite floats, impossible positions, angles, states)
  - Lost datagrams, from gaps in the packet counter
  - Packet rate and error rate

The latest frame of each stream is shown with the event log below it. The
command list sends orders and ignition to the vehicle; the raw code field sends
an order with an arbitrary code. Tab switches between them.

By default only errors are logged as events. Use --show-all to log every
datagram. With --tui=false a text log with periodic statistics is printed
instead.

The connection is reopened with exponential backoff when it is lost.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all datagrams (not just errors)")
	monitorCmd.Flags().DurationVar(&statsInterval, "stats-interval", 10*time.Second, "Statistics interval in text mode")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	stopMetrics := startMetrics()
	defer stopMetrics()

	if !useTUI {
		defer conn.Close()
		return runTextMode(conn, connInfo)
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}

	m := initialMonitorModel(cm, connInfo, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.run()

	_, err = p.Run()
	close(cm.done)
	cm.getConn().Close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// Monitor link tuning
const (
	monitorRefresh    = 50 * time.Millisecond
	monitorMaxBatch   = 100
	reconnectInitial  = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// connectionManager owns the monitor's link and reopens it when it drops
type connectionManager struct {
	mu       sync.RWMutex
	conn     Connection
	connInfo string
	writeMu  sync.Mutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

func (cm *connectionManager) stopping() bool {
	select {
	case <-cm.done:
		return true
	default:
		return false
	}
}

// send writes one datagram to the current connection
func (cm *connectionManager) send(d *skylink.Datagram) error {
	conn := cm.getConn()
	if conn == nil {
		return ErrConnectionClosed
	}
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	n, err := conn.Write(d.Bytes())
	observability.RecordLinkBytes("tx", n)
	return err
}

// run feeds the TUI until shutdown, reconnecting whenever the link drops
func (cm *connectionManager) run() {
	for !cm.stopping() {
		err := cm.session()
		if cm.stopping() {
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("link failed")
		}
		cm.p.Send(connectionLostMsg{})
		if !cm.reconnect() {
			return
		}
	}
}

// session decodes one connection until it fails. Decoder output is collected
// and handed to the TUI once per refresh.
func (cm *connectionManager) session() error {
	conn := cm.getConn()
	if conn == nil {
		return ErrConnectionClosed
	}

	batches := &monitorBatcher{}
	tracker := newSyncTracker()
	stop := make(chan struct{})
	flushed := make(chan struct{})

	go func() {
		defer close(flushed)
		ticker := time.NewTicker(monitorRefresh)
		defer ticker.Stop()
		for {
			var last bool
			select {
			case <-ticker.C:
			case <-stop:
				last = true
			}
			if batch, ok := batches.take(); ok {
				cm.p.Send(batch)
			}
			if last {
				return
			}
		}
	}()

	err := decodeLink(conn, tracker.events(batches.add, batches.sync))
	close(stop)
	<-flushed
	return err
}

// reconnect reopens the link with exponential backoff.
// Returns false if shutdown was requested first.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	for delay := reconnectInitial; ; delay = min(delay*2, reconnectMaxDelay) {
		select {
		case <-cm.done:
			return false
		case <-time.After(delay):
		}

		conn, connInfo, err := OpenConnection()
		if err != nil {
			logger.Debug().Err(err).Dur("backoff", delay).Msg("reconnect failed")
			continue
		}
		cm.setConn(conn, connInfo)
		cm.p.Send(reconnectedMsg{connInfo: connInfo})
		return true
	}
}

// monitorBatcher collects decoder output between TUI refreshes. Messages
// beyond monitorMaxBatch in one refresh are dropped.
type monitorBatcher struct {
	mu      sync.Mutex
	pending monitorBatchMsg
}

func (b *monitorBatcher) add(msg monitorDataMsg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending.messages) < monitorMaxBatch {
		b.pending.messages = append(b.pending.messages, msg)
	}
}

func (b *monitorBatcher) sync(skipped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.syncMsg = &monitorSyncMsg{invalidBytes: skipped}
}

// take returns the pending batch and whether it holds anything
func (b *monitorBatcher) take() (monitorBatchMsg, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = monitorBatchMsg{}
	return batch, batch.syncMsg != nil || len(batch.messages) > 0
}

// syncTracker validates decoded datagrams and ignores decode errors until the
// first valid datagram, so joining a stream mid-datagram is not reported.
type syncTracker struct {
	decoder      *skylink.Decoder
	synchronized bool
}

func newSyncTracker() *syncTracker {
	return &syncTracker{decoder: skylink.NewDecoder()}
}

// events adapts the tracker to decodeLink
func (s *syncTracker) events(onData func(monitorDataMsg), onSync func(skipped int)) linkEvents {
	return linkEvents{
		Decoder: s.decoder,
		Packet: func(p *skylink.Packet) {
			if !s.synchronized {
				s.synchronized = true
				onSync(s.decoder.Skipped())
			}
			errs := skylink.ValidatePacket(p)
			result := "ok"
			if len(errs) > 0 {
				result = "invalid"
			}
			observability.RecordGroundPacket(skylink.StreamName(p.Type()), result)
			onData(monitorDataMsg{packet: p, validationErrors: errs})
		},
		Error: func(err error) {
			if s.synchronized {
				onData(monitorDataMsg{decodeErr: err})
			}
		},
	}
}

// feed decodes data directly, without a link
func (s *syncTracker) feed(data []byte, onData func(monitorDataMsg), onSync func(skipped int)) {
	ev := s.events(onData, onSync)
	s.decoder.Decode(data, ev.Packet, ev.Error)
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(packet *skylink.Packet, errs []skylink.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	msgType := skylink.FormatMessageType(packet.Type())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n", timestamp, msgType, packet.Type())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case skylink.AnomalyLengthMismatch, skylink.AnomalyDecodeError, skylink.AnomalyNonFinite:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		}
	}

	if frame, err := packet.Frame(); err == nil {
		fmt.Print(skylink.FormatFrame(frame))
	}
	fmt.Printf("  >>> PACKET REJECTED <<<\n\n")
}

// runTextMode prints events and periodic statistics instead of the TUI
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("Skylink - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %s\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All datagrams\n")
	} else {
		fmt.Printf("Mode: Errors and status only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	msgs := make(chan monitorDataMsg, 64)
	syncs := make(chan int, 1)
	linkDone := make(chan error, 1)
	tracker := newSyncTracker()
	go func() {
		linkDone <- decodeLink(conn, tracker.events(
			func(m monitorDataMsg) { msgs <- m },
			func(skipped int) { syncs <- skipped },
		))
	}()

	if statsInterval <= 0 {
		statsInterval = 10 * time.Second
	}
	stats := skylink.NewStatistics()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	sigs, stopSignals := interrupted()
	defer stopSignals()

	for {
		select {
		case msg := <-msgs:
			if msg.decodeErr != nil {
				stats.Update(nil, msg.decodeErr, nil)
				printDecodeError(msg.decodeErr)
				continue
			}
			stats.Update(msg.packet, nil, msg.validationErrors)
			switch {
			case len(msg.validationErrors) > 0:
				printValidationErrors(msg.packet, msg.validationErrors)
			case showAll, msg.packet.Type() == skylink.TypeStatus:
				fmt.Print(skylink.FormatPacket(msg.packet))
			}

		case skipped := <-syncs:
			fmt.Printf("[SYNC] Synchronized after skipping %d bytes\n\n", skipped)

		case <-statsTicker.C:
			fmt.Printf("\n%s\n", stats.String())

		case err := <-linkDone:
			if err != nil {
				logger.Error().Err(err).Msg("link failed")
			}
			fmt.Print(stats.String())
			return nil

		case <-sigs:
			fmt.Printf("\n%s", stats.String())
			return nil
		}
	}
}
