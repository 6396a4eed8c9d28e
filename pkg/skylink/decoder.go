// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"fmt"
	"time"
)

// Decoder implements the Skylink datagram decoder state machine.
//
// Datagrams carry no framing bytes, so the decoder synchronizes on a known type tag
// followed by the marker. Bytes that cannot start a datagram are skipped and counted.
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	markerIndex int
	payloadLen  int
	crc         uint16
	skipped     int
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateType,
		buffer: make([]byte, MaxDatagramSize),
	}
}

// Reset resets the decoder state to wait for a type tag
func (d *Decoder) Reset() {
	d.state = stateType
	d.bufferIndex = 0
	d.markerIndex = 0
	d.payloadLen = 0
	d.crc = 0
}

// Skipped returns the number of bytes discarded while searching for a datagram
func (d *Decoder) Skipped() int {
	return d.skipped
}

// GetRawBytes returns the bytes of the datagram currently being assembled
func (d *Decoder) GetRawBytes() []byte {
	return d.buffer[:d.bufferIndex]
}

func (d *Decoder) push(b byte) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
}

// startType begins a datagram if b is a known type tag
func (d *Decoder) startType(b byte) {
	size := PayloadSize(b)
	if size < 0 {
		d.skipped++
		return
	}
	d.push(b)
	d.payloadLen = size
	d.markerIndex = 0
	d.state = stateMarker
}

// DecodeByte processes a single byte through the decoder state machine
// Returns a completed packet, or nil if the packet is incomplete
// Returns an error if decoding fails
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	switch d.state {
	case stateType:
		d.startType(b)
		return nil, nil

	case stateMarker:
		if b != Marker[d.markerIndex] {
			offset := d.markerIndex
			d.skipped += d.bufferIndex
			d.Reset()
			// The offending byte may itself be the next type tag
			d.startType(b)
			return nil, fmt.Errorf("%w: byte 0x%02X at marker offset %d", ErrBadMarker, b, offset)
		}
		d.push(b)
		d.markerIndex++
		if d.markerIndex == MarkerSize {
			if d.payloadLen == 0 {
				d.state = stateCRC1
			} else {
				d.state = statePayload
			}
		}
		return nil, nil

	case statePayload:
		// Check for buffer overflow before accepting byte
		if d.bufferIndex >= len(d.buffer)-CRCSize {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: datagram exceeds max size")
		}
		d.push(b)
		if d.bufferIndex-HeaderSize >= d.payloadLen {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crc |= uint16(b)
		calculatedCRC := CalculateCRC(d.buffer[:d.bufferIndex])
		if d.crc != calculatedCRC {
			err := fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculatedCRC, d.crc)
			d.Reset()
			return nil, err
		}

		payload := make([]byte, d.payloadLen)
		copy(payload, d.buffer[HeaderSize:d.bufferIndex])
		packet := &Packet{
			msgType:   d.buffer[typeTagIndex],
			payload:   payload,
			crc:       d.crc,
			timestamp: time.Now(),
		}
		d.Reset()
		return packet, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// Decode feeds a chunk of bytes through the decoder.
// Complete packets are passed to onPacket and decoding errors to onError (either may be nil).
func (d *Decoder) Decode(data []byte, onPacket func(*Packet), onError func(error)) {
	for _, b := range data {
		packet, err := d.DecodeByte(b)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		if packet != nil && onPacket != nil {
			onPacket(packet)
		}
	}
}

// ParseDatagram decodes exactly one complete datagram
func ParseDatagram(buf []byte) (*Packet, error) {
	if len(buf) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte overhead", ErrPayloadLength, len(buf), Overhead)
	}

	msgType := buf[typeTagIndex]
	size := PayloadSize(msgType)
	if size < 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, msgType)
	}
	if len(buf) != size+Overhead {
		return nil, fmt.Errorf("%w: type 0x%02X has %d bytes, expected %d",
			ErrPayloadLength, msgType, len(buf), size+Overhead)
	}
	for i, m := range Marker {
		if buf[1+i] != m {
			return nil, fmt.Errorf("%w: byte 0x%02X at marker offset %d", ErrBadMarker, buf[1+i], i)
		}
	}

	body := buf[:len(buf)-CRCSize]
	crc := uint16(buf[len(buf)-2])<<8 | uint16(buf[len(buf)-1])
	if calculated := CalculateCRC(body); calculated != crc {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, crc)
	}

	payload := make([]byte, size)
	copy(payload, buf[HeaderSize:HeaderSize+size])
	return NewPacket(msgType, payload, crc), nil
}
