// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package skylink provides a Go implementation of the Skylink telemetry datagram protocol.
//
// Skylink is the binary downlink/uplink format spoken between the flight computer and the
// ground station. Every datagram is a type tag, the fixed "EPFL" marker, a fixed-layout
// payload and a CRC-16-CCITT checksum. This package provides datagram building on fixed
// size slabs, stream frame encoding/decoding, a streaming ground decoder, validation and
// formatting.
package skylink

// Datagram framing
const (
	HeaderSize   = 5 // type tag + marker
	CRCSize      = 2
	Overhead     = HeaderSize + CRCSize
	MarkerSize   = 4
	typeTagIndex = 0
)

// Marker is the protocol prefix written after the type tag of every datagram
var Marker = [MarkerSize]byte{'E', 'P', 'F', 'L'}

// DefaultSlabSize is the single allocation size class used for all datagrams
const DefaultSlabSize = 64

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Datagram types - Downlink telemetry 0x00-0x0F
const (
	TypeAttitude  = 0x00
	TypeStatus    = 0x01
	TypeAirbrakes = 0x02
	TypeGPS       = 0x03
	TypeMotor     = 0x04
)

// Datagram types - Uplink commands 0x10-0x1F
const (
	TypeOrder    = 0x10
	TypeIgnition = 0x11
)

// Payload sizes per datagram type
const (
	AttitudePayloadSize  = 48
	StatusPayloadSize    = 14
	AirbrakesPayloadSize = 12
	GPSPayloadSize       = 25
	MotorPayloadSize     = 12
	CommandPayloadSize   = 9
)

// MaxDatagramSize is the size of the largest known datagram
const MaxDatagramSize = AttitudePayloadSize + Overhead

// PayloadSize returns the payload length for a datagram type, or -1 if the type is unknown
func PayloadSize(msgType uint8) int {
	switch msgType {
	case TypeAttitude:
		return AttitudePayloadSize
	case TypeStatus:
		return StatusPayloadSize
	case TypeAirbrakes:
		return AirbrakesPayloadSize
	case TypeGPS:
		return GPSPayloadSize
	case TypeMotor:
		return MotorPayloadSize
	case TypeOrder, TypeIgnition:
		return CommandPayloadSize
	default:
		return -1
	}
}

// IsKnownType returns true if msgType names a datagram type of this protocol
func IsKnownType(msgType uint8) bool {
	return PayloadSize(msgType) >= 0
}

// Decoder states (internal)
const (
	stateType = iota
	stateMarker
	statePayload
	stateCRC1
	stateCRC2
)

// VehicleState is a vehicle state code requested over the uplink
type VehicleState int32

// Vehicle state values
const (
	StateIdle           VehicleState = 0
	StateOpenFillValve  VehicleState = 1
	StateCloseFillValve VehicleState = 2
	StateOpenPurgeValve VehicleState = 3
	StateDisconnectHose VehicleState = 4
)

// Valid reports whether s is a known vehicle state
func (s VehicleState) Valid() bool {
	return s >= StateIdle && s <= StateDisconnectHose
}

// IgnitionCode is the only command code accepted in an ignition packet
const IgnitionCode = 0x22

// Data identifiers attached to state requests forwarded onboard
const (
	DataIDOrder    = 0x30
	DataIDIgnition = 0x31
)

// AvState is the avionics flight state reported in status datagrams
type AvState uint8

// Avionics state values
const (
	AvStateIdle AvState = iota
	AvStateCalibration
	AvStateArmed
	AvStatePoweredAscent
	AvStateCoast
	AvStateDescent
	AvStateTouchdown
	AvStateError
)
