// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vec3 is a three axis sensor reading
type Vec3 struct {
	X, Y, Z float32
}

// IMUSample is one inertial measurement
type IMUSample struct {
	Acceleration Vec3
	Euler        Vec3
}

// BaroSample is one barometer measurement
type BaroSample struct {
	Temperature float32
	Pressure    float32
}

// GPSSample is one GNSS fix
type GPSSample struct {
	Sats     uint8
	HDOP     float32
	Lat      float32
	Lon      float32
	Altitude int32
}

// Frame is the typed payload of a datagram
type Frame interface {
	// Type returns the datagram type tag
	Type() uint8
	// encode writes the payload fields in wire order
	encode(b *Builder)
}

// AttitudeFrame combines the latest IMU and barometer samples with flight data
type AttitudeFrame struct {
	Timestamp       uint32
	PacketNumber    uint32
	Acceleration    Vec3
	Euler           Vec3
	BaroTemperature float32
	BaroPressure    float32
	Speed           float32
	Altitude        float32
}

// AirbrakesFrame carries the airbrake deployment angle
type AirbrakesFrame struct {
	Timestamp    uint32
	PacketNumber uint32
	Angle        float32
}

// GPSFrame carries a GNSS fix
type GPSFrame struct {
	Timestamp    uint32
	PacketNumber uint32
	GPSSample
}

// MotorFrame carries the motor chamber pressure
type MotorFrame struct {
	Timestamp    uint32
	PacketNumber uint32
	Pressure     float32
}

// StatusFrame carries a warning identifier, its value and the avionics state
type StatusFrame struct {
	Timestamp    uint32
	PacketNumber uint32
	ID           uint8
	Value        float32
	AvState      AvState
}

// CommandFrame is an uplink order or ignition packet
type CommandFrame struct {
	Kind         uint8 // TypeOrder or TypeIgnition
	Timestamp    uint32
	PacketNumber uint32
	Code         uint8
}

func (f *AttitudeFrame) Type() uint8  { return TypeAttitude }
func (f *AirbrakesFrame) Type() uint8 { return TypeAirbrakes }
func (f *GPSFrame) Type() uint8       { return TypeGPS }
func (f *MotorFrame) Type() uint8     { return TypeMotor }
func (f *StatusFrame) Type() uint8    { return TypeStatus }
func (f *CommandFrame) Type() uint8   { return f.Kind }

func (f *AttitudeFrame) encode(b *Builder) {
	b.Write32(f.Timestamp)
	b.Write32(f.PacketNumber)
	b.WriteFloat32(f.Acceleration.X)
	b.WriteFloat32(f.Acceleration.Y)
	b.WriteFloat32(f.Acceleration.Z)
	b.WriteFloat32(f.Euler.X)
	b.WriteFloat32(f.Euler.Y)
	b.WriteFloat32(f.Euler.Z)
	b.WriteFloat32(f.BaroTemperature)
	b.WriteFloat32(f.BaroPressure)
	b.WriteFloat32(f.Speed)
	b.WriteFloat32(f.Altitude)
}

func (f *AirbrakesFrame) encode(b *Builder) {
	b.Write32(f.Timestamp)
	b.Write32(f.PacketNumber)
	b.WriteFloat32(f.Angle)
}

func (f *GPSFrame) encode(b *Builder) {
	b.Write32(f.Timestamp)
	b.Write32(f.PacketNumber)
	b.Write8(f.Sats)
	b.WriteFloat32(f.HDOP)
	b.WriteFloat32(f.Lat)
	b.WriteFloat32(f.Lon)
	b.WriteInt32(f.Altitude)
}

func (f *MotorFrame) encode(b *Builder) {
	b.Write32(f.Timestamp)
	b.Write32(f.PacketNumber)
	b.WriteFloat32(f.Pressure)
}

func (f *StatusFrame) encode(b *Builder) {
	b.Write32(f.Timestamp)
	b.Write32(f.PacketNumber)
	b.Write8(f.ID)
	b.WriteFloat32(f.Value)
	b.Write8(uint8(f.AvState))
}

func (f *CommandFrame) encode(b *Builder) {
	b.Write32(f.Timestamp)
	b.Write32(f.PacketNumber)
	b.Write8(f.Code)
}

// BuildDatagram encodes a frame into a finalized datagram.
// On allocation failure it returns the (empty) datagram together with the error.
func BuildDatagram(pool *SlabPool, f Frame) (*Datagram, error) {
	size := PayloadSize(f.Type())
	if size < 0 {
		return emptyDatagram(), fmt.Errorf("unknown datagram type 0x%02X", f.Type())
	}
	b, err := NewBuilder(pool, size, f.Type())
	f.encode(b)
	return b.Finalize(), err
}

// payloadReader reads big-endian fields from a payload
type payloadReader struct {
	data []byte
	off  int
}

func (r *payloadReader) u8() uint8 {
	v := r.data[r.off]
	r.off++
	return v
}

func (r *payloadReader) u32() uint32 {
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *payloadReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *payloadReader) vec3() Vec3 {
	return Vec3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

// DecodeFrame decodes a payload of the given datagram type into its typed frame
func DecodeFrame(msgType uint8, payload []byte) (Frame, error) {
	size := PayloadSize(msgType)
	if size < 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, msgType)
	}
	if len(payload) != size {
		return nil, fmt.Errorf("%w: type 0x%02X has %d bytes, expected %d",
			ErrPayloadLength, msgType, len(payload), size)
	}

	r := &payloadReader{data: payload}
	switch msgType {
	case TypeAttitude:
		return &AttitudeFrame{
			Timestamp:       r.u32(),
			PacketNumber:    r.u32(),
			Acceleration:    r.vec3(),
			Euler:           r.vec3(),
			BaroTemperature: r.f32(),
			BaroPressure:    r.f32(),
			Speed:           r.f32(),
			Altitude:        r.f32(),
		}, nil
	case TypeAirbrakes:
		return &AirbrakesFrame{Timestamp: r.u32(), PacketNumber: r.u32(), Angle: r.f32()}, nil
	case TypeGPS:
		f := &GPSFrame{Timestamp: r.u32(), PacketNumber: r.u32()}
		f.Sats = r.u8()
		f.HDOP = r.f32()
		f.Lat = r.f32()
		f.Lon = r.f32()
		f.Altitude = int32(r.u32())
		return f, nil
	case TypeMotor:
		return &MotorFrame{Timestamp: r.u32(), PacketNumber: r.u32(), Pressure: r.f32()}, nil
	case TypeStatus:
		return &StatusFrame{
			Timestamp:    r.u32(),
			PacketNumber: r.u32(),
			ID:           r.u8(),
			Value:        r.f32(),
			AvState:      AvState(r.u8()),
		}, nil
	default:
		return &CommandFrame{Kind: msgType, Timestamp: r.u32(), PacketNumber: r.u32(), Code: r.u8()}, nil
	}
}

// FramePacketNumber returns the global packet counter carried by a frame
func FramePacketNumber(f Frame) uint32 {
	switch v := f.(type) {
	case *AttitudeFrame:
		return v.PacketNumber
	case *AirbrakesFrame:
		return v.PacketNumber
	case *GPSFrame:
		return v.PacketNumber
	case *MotorFrame:
		return v.PacketNumber
	case *StatusFrame:
		return v.PacketNumber
	case *CommandFrame:
		return v.PacketNumber
	}
	return 0
}
