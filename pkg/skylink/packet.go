// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import "time"

// Packet represents a decoded Skylink datagram
type Packet struct {
	msgType   uint8
	payload   []byte
	crc       uint16
	timestamp time.Time

	// Cached frame (lazy decoding)
	frame    Frame
	parsed   bool
	parseErr error
}

// NewPacket creates a new packet with the given fields
func NewPacket(msgType uint8, payload []byte, crc uint16) *Packet {
	return &Packet{
		msgType:   msgType,
		payload:   payload,
		crc:       crc,
		timestamp: time.Now(),
	}
}

// Type returns the packet's datagram type
func (p *Packet) Type() uint8 {
	return p.msgType
}

// Length returns the packet's payload length
func (p *Packet) Length() int {
	return len(p.payload)
}

// Payload returns the raw payload bytes
func (p *Packet) Payload() []byte {
	return p.payload
}

// CRC returns the packet's CRC value
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Frame returns the decoded stream frame
func (p *Packet) Frame() (Frame, error) {
	if !p.parsed {
		p.parsed = true
		p.frame, p.parseErr = DecodeFrame(p.msgType, p.payload)
	}
	return p.frame, p.parseErr
}

// IsUplink returns true for order and ignition packets
func (p *Packet) IsUplink() bool {
	return p.msgType == TypeOrder || p.msgType == TypeIgnition
}

// Bytes re-encodes the packet to wire format
func (p *Packet) Bytes() []byte {
	buf := make([]byte, 0, len(p.payload)+Overhead)
	buf = append(buf, p.msgType)
	buf = append(buf, Marker[:]...)
	buf = append(buf, p.payload...)
	return append(buf, byte(p.crc>>8), byte(p.crc))
}
