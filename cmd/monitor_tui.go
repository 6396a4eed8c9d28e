// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusCommandList = iota
	focusRawInput
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// commandItem is one entry of the uplink command list
type commandItem struct {
	label string
	kind  uint8 // TypeOrder or TypeIgnition
	state skylink.VehicleState
}

// Implement list.Item interface
func (c commandItem) Title() string { return c.label }
func (c commandItem) Description() string {
	if c.kind == skylink.TypeIgnition {
		return fmt.Sprintf("IGNITION 0x%02X (confirm twice)", skylink.IgnitionCode)
	}
	return fmt.Sprintf("ORDER %s (%d)", skylink.FormatVehicleState(c.state), c.state)
}
func (c commandItem) FilterValue() string { return c.label }

func defaultCommands() []commandItem {
	return []commandItem{
		{label: "Idle", kind: skylink.TypeOrder, state: skylink.StateIdle},
		{label: "Open fill valve", kind: skylink.TypeOrder, state: skylink.StateOpenFillValve},
		{label: "Close fill valve", kind: skylink.TypeOrder, state: skylink.StateCloseFillValve},
		{label: "Open purge valve", kind: skylink.TypeOrder, state: skylink.StateOpenPurgeValve},
		{label: "Disconnect hose", kind: skylink.TypeOrder, state: skylink.StateDisconnectHose},
		{label: "Ignition", kind: skylink.TypeIgnition},
	}
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string
	showAll  bool

	// Downlink
	stats         *skylink.Statistics
	latest        map[uint8]*skylink.Packet
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int

	// Uplink
	commandList     list.Model
	rawInput        textinput.Model
	focusedField    int
	ignitionPending bool
	uplinkCount     uint32
	start           time.Time

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorDataMsg struct {
	packet           *skylink.Packet
	decodeErr        error
	validationErrors []skylink.ValidationError
}

type monitorSyncMsg struct {
	invalidBytes int
}

type monitorBatchMsg struct {
	messages []monitorDataMsg
	syncMsg  *monitorSyncMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string, showAll bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "0x07"
	ti.CharLimit = 4
	ti.Width = 6

	commands := defaultCommands()
	items := make([]list.Item, len(commands))
	for i, c := range commands {
		items[i] = c
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	commandList := list.New(items, delegate, 34, 14)
	commandList.Title = "Uplink"
	commandList.SetShowStatusBar(false)
	commandList.SetShowHelp(false)
	commandList.SetFilteringEnabled(false)

	return monitorModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         skylink.NewStatistics(),
		latest:        make(map[uint8]*skylink.Packet),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		commandList:   commandList,
		rawInput:      ti,
		focusedField:  focusCommandList,
		start:         time.Now(),
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case monitorBatchMsg:
		if msg.syncMsg != nil {
			m.handleSync(*msg.syncMsg)
		}
		for _, data := range msg.messages {
			m.processData(data)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.synchronized = false
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusRawInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		m.ignitionPending = false
		if m.focusedField == focusCommandList {
			m.focusedField = focusRawInput
			m.rawInput.Focus()
		} else {
			m.focusedField = focusCommandList
			m.rawInput.Blur()
		}
		return m, nil

	case "enter":
		if m.focusedField == focusRawInput {
			m.sendRawCommand()
		} else {
			m.sendSelectedCommand()
		}
		return m, nil

	case "esc":
		if m.ignitionPending {
			m.ignitionPending = false
			m.addLogEntry("Ignition cancelled", false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.focusedField == focusRawInput {
		m.rawInput, cmd = m.rawInput.Update(msg)
		return m, cmd
	}

	before := m.commandList.Index()
	m.commandList, cmd = m.commandList.Update(msg)
	if m.commandList.Index() != before {
		m.ignitionPending = false
	}
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newMonitorStyles()
	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("SKYLINK MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	mode := "Errors only"
	if m.showAll {
		mode = "All datagrams"
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %s | q=quit Tab=switch Enter=send", connStatus, mode)))
	s.WriteString("\n\n")

	// Sync status
	if !m.synchronized {
		s.WriteString(st.warning.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(st.value.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(st.header.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n")

	s.WriteString(m.renderStatistics(st))
	s.WriteString("\n")

	// Layout: left panel (latest frames) | right panel (uplink)
	rightWidth := 36
	leftWidth := m.width - rightWidth - 6
	if leftWidth < 40 {
		leftWidth = 40
	}
	framesPanel := st.box.Width(leftWidth).Render(m.renderLatest(st))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, framesPanel, " ", m.renderUplink(st, rightWidth)))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(st))
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

type monitorStyles struct {
	title, header, label, value, errorText, warning, box, focusedBox lipgloss.Style
}

func newMonitorStyles() monitorStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	return monitorStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		errorText:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		box:        box,
		focusedBox: box.BorderForeground(lipgloss.Color("12")),
	}
}

func (m monitorModel) renderStatistics(st monitorStyles) string {
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
		errorPercent = float64(m.stats.ErrorCount()) * 100.0 / float64(m.stats.TotalPackets)
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		st.label.Render("Valid:"), st.value.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidPackets, validPercent)),
		st.label.Render("Errors:"), st.errorText.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ErrorCount(), errorPercent)),
		st.label.Render("Lost:"), st.warning.Render(fmt.Sprintf("%d", m.stats.LostPackets)),
	))

	if m.stats.CRCErrors > 0 || m.stats.DecodeErrors > 0 || m.stats.MalformedPackets > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			st.label.Render("CRC Errors:"), st.errorText.Render(fmt.Sprintf("%d", m.stats.CRCErrors)),
			st.label.Render("Decode Errors:"), st.errorText.Render(fmt.Sprintf("%d", m.stats.DecodeErrors)),
			st.label.Render("Malformed:"), st.errorText.Render(fmt.Sprintf("%d", m.stats.MalformedPackets)),
		))
	}

	if m.stats.AnomalousValues > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			st.label.Render("Anomalous:"), st.warning.Render(fmt.Sprintf("%d", m.stats.AnomalousValues)),
			st.header.Render("non-finite"), m.stats.NonFinite,
			st.header.Render("position"), m.stats.InvalidPosition,
			st.header.Render("angle"), m.stats.InvalidAngle,
		))
	}

	errRate := st.value.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	if m.stats.ErrorRate > 0 {
		errRate = st.errorText.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	}
	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		st.label.Render("Packet Rate:"), st.value.Render(fmt.Sprintf("%.1f pkts/s", m.stats.PacketRate)),
		st.label.Render("Error Rate:"), errRate,
	))

	return st.box.Width(m.width - 4).Render(content.String())
}

// streamOrder is the display order of the latest frames
var streamOrder = []uint8{skylink.TypeStatus, skylink.TypeAttitude, skylink.TypeGPS, skylink.TypeMotor, skylink.TypeAirbrakes}

func (m monitorModel) renderLatest(st monitorStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("TELEMETRY"))
	if p := m.latest[skylink.TypeStatus]; p != nil {
		if frame, err := p.Frame(); err == nil {
			s.WriteString(st.header.Render(" | vehicle clock "))
			s.WriteString(st.value.Render(formatUptime(uint64(frame.(*skylink.StatusFrame).Timestamp))))
		}
	}
	s.WriteString("\n")

	if len(m.latest) == 0 {
		s.WriteString(st.header.Render("No telemetry data"))
		return s.String()
	}
	for _, t := range streamOrder {
		p := m.latest[t]
		if p == nil {
			continue
		}
		s.WriteString(fmt.Sprintf("%s %s\n",
			st.label.Render(fmt.Sprintf("%-10s", skylink.FormatMessageType(t)+":")),
			frameSummary(p)))
	}
	return strings.TrimSuffix(s.String(), "\n")
}

// frameSummary renders the fields of a stream frame on one line
func frameSummary(p *skylink.Packet) string {
	frame, err := p.Frame()
	if err != nil {
		return fmt.Sprintf("(undecodable: %v)", err)
	}
	switch f := frame.(type) {
	case *skylink.AttitudeFrame:
		return fmt.Sprintf("alt %.1f m  v %.1f m/s  acc.z %.2f g  %.1f hPa",
			f.Altitude, f.Speed, f.Acceleration.Z, f.BaroPressure)
	case *skylink.GPSFrame:
		return fmt.Sprintf("%d sats  %.5f, %.5f  %d m", f.Sats, f.Lat, f.Lon, f.Altitude)
	case *skylink.MotorFrame:
		return fmt.Sprintf("%.2f bar", f.Pressure)
	case *skylink.AirbrakesFrame:
		return fmt.Sprintf("%.1f°", f.Angle)
	case *skylink.StatusFrame:
		return fmt.Sprintf("%s  warning 0x%02X = %.2f", skylink.FormatAvState(f.AvState), f.ID, f.Value)
	}
	return skylink.FormatMessageType(p.Type())
}

func (m monitorModel) renderUplink(st monitorStyles, width int) string {
	listStyle := st.box.Width(width)
	inputStyle := st.box.Width(width)
	if m.focusedField == focusCommandList {
		listStyle = st.focusedBox.Width(width)
	} else {
		inputStyle = st.focusedBox.Width(width)
	}

	var raw strings.Builder
	raw.WriteString(st.label.Render("Raw code: "))
	if m.focusedField == focusRawInput {
		raw.WriteString(m.rawInput.View())
	} else {
		val := m.rawInput.Value()
		if val == "" {
			val = m.rawInput.Placeholder
		}
		raw.WriteString(fmt.Sprintf("[%s]", val))
	}
	if m.ignitionPending {
		raw.WriteString("\n")
		raw.WriteString(st.errorText.Render("Enter again to IGNITE, Esc to cancel"))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		listStyle.Render(m.commandList.View()),
		inputStyle.Render(raw.String()))
}

func (m monitorModel) renderEventLog(st monitorStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - 30
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				s.WriteString(fmt.Sprintf("%s %s\n", st.header.Render(timestamp), st.errorText.Render("✗ "+entry.message)))
			} else {
				s.WriteString(fmt.Sprintf("%s %s\n", st.header.Render(timestamp), st.warning.Render("ℹ "+entry.message)))
			}
		}
	}

	return st.box.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) handleSync(msg monitorSyncMsg) {
	m.synchronized = true
	m.invalidBytes = msg.invalidBytes
	if msg.invalidBytes > 0 {
		m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
	} else {
		m.addLogEntry("Synchronized", false)
	}
}

func (m *monitorModel) processData(msg monitorDataMsg) {
	if msg.decodeErr != nil {
		if m.synchronized {
			m.stats.Update(nil, msg.decodeErr, nil)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		}
		return
	}
	if msg.packet == nil {
		return
	}

	lost := m.stats.LostPackets
	m.stats.Update(msg.packet, nil, msg.validationErrors)
	if gap := m.stats.LostPackets - lost; gap > 0 {
		m.addLogEntry(fmt.Sprintf("%d datagram(s) lost", gap), true)
	}

	msgType := skylink.FormatMessageType(msg.packet.Type())
	if len(msg.validationErrors) > 0 {
		for _, err := range msg.validationErrors {
			m.addLogEntry(fmt.Sprintf("%s: %s", msgType, err.Message), true)
		}
		return
	}

	if prev := m.latest[skylink.TypeStatus]; msg.packet.Type() == skylink.TypeStatus && prev != nil {
		m.logPhaseChange(prev, msg.packet)
	}
	m.latest[msg.packet.Type()] = msg.packet

	if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s (valid)", msgType), false)
	}
}

// logPhaseChange logs a change of the avionics state between two status datagrams
func (m *monitorModel) logPhaseChange(prev, next *skylink.Packet) {
	pf, err1 := prev.Frame()
	nf, err2 := next.Frame()
	if err1 != nil || err2 != nil {
		return
	}
	from := pf.(*skylink.StatusFrame).AvState
	to := nf.(*skylink.StatusFrame).AvState
	if from != to {
		m.addLogEntry(fmt.Sprintf("Flight phase %s -> %s", skylink.FormatAvState(from), skylink.FormatAvState(to)), false)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *monitorModel) sendSelectedCommand() {
	item, ok := m.commandList.SelectedItem().(commandItem)
	if !ok {
		return
	}

	if item.kind == skylink.TypeIgnition {
		if !m.ignitionPending {
			m.ignitionPending = true
			m.addLogEntry("Ignition armed: press Enter again to confirm", false)
			return
		}
		m.ignitionPending = false
		m.sendDatagram(skylink.NewIgnitionDatagram(m.uplinkTimestamp(), m.uplinkCount), "IGNITION")
		return
	}

	m.sendDatagram(skylink.NewOrderDatagram(m.uplinkTimestamp(), m.uplinkCount, item.state),
		"ORDER "+skylink.FormatVehicleState(item.state))
}

func (m *monitorModel) sendRawCommand() {
	text := strings.TrimSpace(m.rawInput.Value())
	if text == "" {
		text = m.rawInput.Placeholder
	}
	code, err := strconv.ParseUint(text, 0, 8)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid code: %s", text), true)
		return
	}
	d := skylink.NewRawCommandDatagram(skylink.TypeOrder, m.uplinkTimestamp(), m.uplinkCount, uint8(code))
	m.sendDatagram(d, fmt.Sprintf("ORDER raw 0x%02X", code))
}

func (m *monitorModel) sendDatagram(d *skylink.Datagram, what string) {
	defer d.Release()

	// Don't allow control commands while connection is lost
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return
	}
	if err := m.connMgr.send(d); err != nil {
		observability.RecordUplinkCommand("monitor", "error")
		m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", what, err), true)
		return
	}
	observability.RecordUplinkCommand("monitor", "sent")
	m.uplinkCount++
	m.addLogEntry(fmt.Sprintf("Sent %s (#%d)", what, m.uplinkCount-1), false)
}

func (m *monitorModel) uplinkTimestamp() uint32 {
	return uint32(time.Since(m.start).Milliseconds())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateListSize() {
	listHeight := m.height / 2
	if listHeight < 8 {
		listHeight = 8
	}
	m.commandList.SetSize(32, listHeight)
}

// formatUptime formats a millisecond clock as a human-friendly duration
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
