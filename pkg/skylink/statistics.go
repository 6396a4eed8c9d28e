// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Statistics tracks packet statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	MalformedPackets uint64
	AnomalousValues  uint64
	NonFinite        uint64
	InvalidPosition  uint64
	InvalidAngle     uint64
	LostPackets      uint64
	PerType          map[uint8]uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec

	lastPacketNumber uint32
	havePacketNumber bool
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		PerType:        make(map[uint8]uint64),
	}
}

// Update updates statistics based on a packet and its errors
func (s *Statistics) Update(packet *Packet, decodeErr error, validationErrors []ValidationError) {
	s.TotalPackets++

	switch {
	case errors.Is(decodeErr, ErrCRCMismatch):
		s.CRCErrors++
		return
	case decodeErr != nil:
		s.DecodeErrors++
		return
	case packet == nil:
		return
	}

	s.PerType[packet.Type()]++
	s.trackSequence(packet)

	if len(validationErrors) == 0 {
		s.ValidPackets++
	}
	for _, v := range validationErrors {
		s.countAnomaly(v.Type)
	}

	s.LastUpdateTime = time.Now()
}

func (s *Statistics) countAnomaly(t AnomalyType) {
	switch t {
	case AnomalyLengthMismatch, AnomalyDecodeError:
		s.MalformedPackets++
		return
	case AnomalyNonFinite:
		s.NonFinite++
	case AnomalyInvalidPosition:
		s.InvalidPosition++
	case AnomalyInvalidAngle:
		s.InvalidAngle++
	}
	s.AnomalousValues++
}

// trackSequence counts gaps in the global packet counter of downlink frames.
// A counter that goes backwards is treated as a flight computer restart.
func (s *Statistics) trackSequence(packet *Packet) {
	if packet.IsUplink() {
		return
	}
	frame, err := packet.Frame()
	if err != nil {
		return
	}
	n := FramePacketNumber(frame)
	if s.havePacketNumber && n > s.lastPacketNumber+1 {
		s.LostPackets += uint64(n - s.lastPacketNumber - 1)
	}
	s.lastPacketNumber = n
	s.havePacketNumber = true
}

// ErrorCount returns the number of packets that failed decoding or validation
func (s *Statistics) ErrorCount() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.MalformedPackets + s.AnomalousValues
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100 / float64(s.TotalPackets)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "%-17s%8d\n", "Total Packets:", s.TotalPackets)
	fmt.Fprintf(&b, "%-17s%8d (%.1f%%)\n", "Valid Packets:", s.ValidPackets, percent(s.ValidPackets))

	// Error classes are only listed once they occur
	for _, c := range []struct {
		label string
		n     uint64
	}{
		{"CRC Errors:", s.CRCErrors},
		{"Decode Errors:", s.DecodeErrors},
		{"Malformed Pkts:", s.MalformedPackets},
		{"Anomalous Values:", s.AnomalousValues},
	} {
		if c.n > 0 {
			fmt.Fprintf(&b, "%-17s%8d (%.1f%%)\n", c.label, c.n, percent(c.n))
		}
	}
	for _, c := range []struct {
		label string
		n     uint64
	}{
		{"Non-finite:", s.NonFinite},
		{"Invalid Position:", s.InvalidPosition},
		{"Invalid Angle:", s.InvalidAngle},
	} {
		if c.n > 0 {
			fmt.Fprintf(&b, "  %-18s%5d\n", c.label, c.n)
		}
	}
	if s.LostPackets > 0 {
		fmt.Fprintf(&b, "%-17s%8d\n", "Lost Packets:", s.LostPackets)
	}

	for _, t := range []uint8{TypeAttitude, TypeStatus, TypeAirbrakes, TypeGPS, TypeMotor, TypeOrder, TypeIgnition} {
		if n := s.PerType[t]; n > 0 {
			fmt.Fprintf(&b, "  %-10s %8d\n", FormatMessageType(t)+":", n)
		}
	}

	fmt.Fprintf(&b, "%-17s%8.1f pkts/sec\n", "Packet Rate:", s.PacketRate)
	fmt.Fprintf(&b, "%-17s%8.1f errors/sec\n", "Error Rate:", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
