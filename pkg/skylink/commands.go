// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"encoding/binary"
	"fmt"
)

// Command is a decoded uplink order or ignition packet
type Command struct {
	Timestamp    uint32
	PacketNumber uint32 // not used onboard
	Code         uint8
}

// DecodeCommand parses the fixed uplink layout: big-endian timestamp (bytes 0-3),
// big-endian packet number (bytes 4-7) and command code (byte 8).
// Bytes past the command code are ignored.
func DecodeCommand(packet []byte) (Command, error) {
	if len(packet) < CommandPayloadSize {
		return Command{}, fmt.Errorf("%w: %d bytes (need %d)", ErrShortPacket, len(packet), CommandPayloadSize)
	}
	return Command{
		Timestamp:    binary.BigEndian.Uint32(packet[0:4]),
		PacketNumber: binary.BigEndian.Uint32(packet[4:8]),
		Code:         packet[8],
	}, nil
}

// EncodeCommand returns the 9 byte uplink payload for a command
func EncodeCommand(c Command) []byte {
	buf := make([]byte, CommandPayloadSize)
	binary.BigEndian.PutUint32(buf[0:4], c.Timestamp)
	binary.BigEndian.PutUint32(buf[4:8], c.PacketNumber)
	buf[8] = c.Code
	return buf
}

// Command builder functions create uplink datagrams ready for transmission.
// They allocate exact-size buffers and never fail.

// NewOrderDatagram creates an ORDER datagram (0x10) requesting a vehicle state.
func NewOrderDatagram(timestamp, packetNumber uint32, state VehicleState) *Datagram {
	return NewRawCommandDatagram(TypeOrder, timestamp, packetNumber, uint8(state))
}

// NewIgnitionDatagram creates an IGNITION datagram (0x11) carrying IgnitionCode.
func NewIgnitionDatagram(timestamp, packetNumber uint32) *Datagram {
	return NewRawCommandDatagram(TypeIgnition, timestamp, packetNumber, IgnitionCode)
}

// NewRawCommandDatagram creates an uplink datagram with an arbitrary command code.
// Used to exercise the onboard handling of unknown codes.
func NewRawCommandDatagram(kind uint8, timestamp, packetNumber uint32, code uint8) *Datagram {
	d, _ := BuildDatagram(nil, &CommandFrame{
		Kind:         kind,
		Timestamp:    timestamp,
		PacketNumber: packetNumber,
		Code:         code,
	})
	return d
}

// ParseVehicleState maps a state name used on the command line to its code
func ParseVehicleState(name string) (VehicleState, error) {
	switch name {
	case "idle":
		return StateIdle, nil
	case "open-fill-valve":
		return StateOpenFillValve, nil
	case "close-fill-valve":
		return StateCloseFillValve, nil
	case "open-purge-valve":
		return StateOpenPurgeValve, nil
	case "disconnect-hose":
		return StateDisconnectHose, nil
	}
	return 0, fmt.Errorf("unknown vehicle state %q", name)
}
