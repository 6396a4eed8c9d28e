// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import "errors"

var (
	// ErrCRCMismatch is wrapped by every checksum failure
	ErrCRCMismatch = errors.New("CRC mismatch")
	// ErrUnknownType is returned for a type tag outside the protocol
	ErrUnknownType = errors.New("unknown datagram type")
	// ErrBadMarker is returned when the protocol marker does not follow the type tag
	ErrBadMarker = errors.New("bad protocol marker")
	// ErrPayloadLength is returned when a payload does not match its type's layout
	ErrPayloadLength = errors.New("payload length mismatch")
	// ErrShortPacket is returned for uplink packets under CommandPayloadSize bytes
	ErrShortPacket = errors.New("uplink packet too short")
)
