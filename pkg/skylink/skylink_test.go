// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// sampleAttitude returns a fully populated attitude frame
func sampleAttitude() *AttitudeFrame {
	return &AttitudeFrame{
		Timestamp:       123456,
		PacketNumber:    42,
		Acceleration:    Vec3{X: 0.1, Y: -0.2, Z: 9.81},
		Euler:           Vec3{X: 1.5, Y: -2.5, Z: 180},
		BaroTemperature: 21.5,
		BaroPressure:    1013.25,
		Speed:           120.5,
		Altitude:        1500,
	}
}

// mustBuild builds a datagram without a pool and fails the test on error
func mustBuild(t *testing.T, f Frame) []byte {
	t.Helper()
	d, err := BuildDatagram(nil, f)
	if err != nil {
		t.Fatalf("BuildDatagram failed: %v", err)
	}
	return d.Bytes()
}

// decodeAll feeds data through a fresh decoder and collects packets and errors
func decodeAll(data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	NewDecoder().Decode(data,
		func(p *Packet) { packets = append(packets, p) },
		func(err error) { errs = append(errs, err) })
	return packets, errs
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x29B1, // Standard CRC-16-CCITT check value
		},
		{
			name:     "single zero byte",
			data:     []byte{0x00},
			expected: 0xE1F0,
		},
		{
			name:     "ASCII 'A'",
			data:     []byte("A"),
			expected: 0xB915,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestCRCUpdate_MatchesBitwise(t *testing.T) {
	// Reference bit-at-a-time implementation
	bitwise := func(data []byte) uint16 {
		crc := uint16(crcInitial)
		for _, b := range data {
			crc ^= uint16(b) << 8
			for i := 0; i < 8; i++ {
				if crc&0x8000 != 0 {
					crc = (crc << 1) ^ crcPolynomial
				} else {
					crc <<= 1
				}
			}
		}
		return crc
	}

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i * 7)
	}
	for n := 0; n <= len(data); n += 17 {
		if got, want := CalculateCRC(data[:n]), bitwise(data[:n]); got != want {
			t.Errorf("len %d: table CRC 0x%04X != bitwise CRC 0x%04X", n, got, want)
		}
	}
}

func TestCRC_IncrementalEqualsWhole(t *testing.T) {
	data := []byte("EPFL rocket team telemetry")
	acc := uint16(crcInitial)
	for _, b := range data[:10] {
		acc = CRCUpdate(acc, b)
	}
	for _, b := range data[10:] {
		acc = CRCUpdate(acc, b)
	}
	if CRCFinalize(acc) != CalculateCRC(data) {
		t.Error("incremental CRC should equal whole-buffer CRC")
	}
}

// ============================================================
// Slab Pool Tests
// ============================================================

func TestSlabPool_Bounded(t *testing.T) {
	pool := NewSlabPool(64, 2)

	a, err := pool.Get(10)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	if len(a) != 10 || cap(a) != 64 {
		t.Errorf("slab len/cap = %d/%d, want 10/64", len(a), cap(a))
	}
	if _, err := pool.Get(20); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if _, err := pool.Get(5); !errors.Is(err, ErrSlabExhausted) {
		t.Errorf("third Get error = %v, want ErrSlabExhausted", err)
	}

	pool.Put(a)
	if pool.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", pool.InUse())
	}
	b, err := pool.Get(64)
	if err != nil {
		t.Fatalf("Get after Put failed: %v", err)
	}
	for i, v := range b {
		if v != 0 {
			t.Fatalf("reused slab not zeroed at %d", i)
		}
	}
}

func TestSlabPool_TooSmall(t *testing.T) {
	pool := NewSlabPool(16, 0)
	if _, err := pool.Get(17); !errors.Is(err, ErrSlabTooSmall) {
		t.Errorf("Get(17) error = %v, want ErrSlabTooSmall", err)
	}
}

func TestSlabPool_DefaultSize(t *testing.T) {
	if got := NewSlabPool(0, 0).SlabSize(); got != DefaultSlabSize {
		t.Errorf("SlabSize() = %d, want %d", got, DefaultSlabSize)
	}
}

// ============================================================
// Builder Tests
// ============================================================

func TestBuilder_Layout(t *testing.T) {
	b, err := NewBuilder(nil, 7, TypeMotor)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	b.Write8(0xAB)
	b.Write16(0x1234)
	b.Write32(0xDEADBEEF)
	d := b.Finalize()

	want := []byte{TypeMotor, 'E', 'P', 'F', 'L', 0xAB, 0x12, 0x34, 0xDE, 0xAD, 0xBE, 0xEF}
	got := d.Bytes()
	if !bytes.Equal(got[:len(want)], want) {
		t.Fatalf("datagram = % X, want prefix % X", got, want)
	}
	if d.Len() != 7+Overhead {
		t.Errorf("Len() = %d, want %d", d.Len(), 7+Overhead)
	}

	crc := binary.BigEndian.Uint16(got[len(got)-2:])
	if calc := CalculateCRC(got[:len(got)-2]); calc != crc {
		t.Errorf("trailing CRC 0x%04X != recomputed 0x%04X", crc, calc)
	}
}

func TestBuilder_FloatAndSigned(t *testing.T) {
	b, _ := NewBuilder(nil, 8, TypeMotor)
	b.WriteFloat32(1.5)
	b.WriteInt32(-2)
	got := b.Finalize().Bytes()[HeaderSize:]

	if v := math.Float32frombits(binary.BigEndian.Uint32(got[0:4])); v != 1.5 {
		t.Errorf("float = %v, want 1.5", v)
	}
	if v := int32(binary.BigEndian.Uint32(got[4:8])); v != -2 {
		t.Errorf("int32 = %d, want -2", v)
	}
}

func TestBuilder_OverflowDropped(t *testing.T) {
	b, _ := NewBuilder(nil, 4, TypeMotor)
	b.Write32(0x01020304)
	before := append([]byte(nil), b.buf[:b.Len()]...)

	b.Write8(0xFF)
	b.Write16(0xFFFF)
	b.Write32(0xFFFFFFFF)
	if b.Len() != HeaderSize+4 {
		t.Errorf("cursor moved past capacity: %d", b.Len())
	}
	if !bytes.Equal(b.buf[:b.Len()], before) {
		t.Error("overflowing writes altered existing bytes")
	}

	d := b.Finalize()
	got := d.Bytes()
	if len(got) != 4+Overhead {
		t.Fatalf("Len() = %d, want %d", len(got), 4+Overhead)
	}
	if calc := CalculateCRC(got[:len(got)-2]); calc != binary.BigEndian.Uint16(got[len(got)-2:]) {
		t.Error("checksum slot was overwritten by payload")
	}
}

func TestBuilder_PartialWriteRejected(t *testing.T) {
	b, _ := NewBuilder(nil, 3, TypeMotor)
	b.Write16(0x1111)
	b.Write32(0x22222222) // does not fit in the single remaining byte
	b.Write8(0x33)
	got := b.Finalize().Bytes()
	if !bytes.Equal(got[HeaderSize:HeaderSize+3], []byte{0x11, 0x11, 0x33}) {
		t.Errorf("payload = % X, want 11 11 33", got[HeaderSize:HeaderSize+3])
	}
}

func TestBuilder_UnderfilledIsPadded(t *testing.T) {
	pool := NewSlabPool(DefaultSlabSize, 1)
	stale, err := pool.Get(DefaultSlabSize)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for i := range stale {
		stale[i] = 0xEE
	}
	pool.Put(stale)

	b, err := NewBuilder(pool, MotorPayloadSize, TypeMotor)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	b.Write32(0x0A0B0C0D)
	d := b.Finalize()
	defer d.Release()

	got := d.Bytes()
	if d.Len() != MotorPayloadSize+Overhead || len(got) != MotorPayloadSize+Overhead {
		t.Fatalf("Len() = %d, want %d", d.Len(), MotorPayloadSize+Overhead)
	}
	want := make([]byte, MotorPayloadSize)
	copy(want, []byte{0x0A, 0x0B, 0x0C, 0x0D})
	if payload := got[HeaderSize : HeaderSize+MotorPayloadSize]; !bytes.Equal(payload, want) {
		t.Errorf("payload = % X, want % X", payload, want)
	}
	if calc := CalculateCRC(got[:len(got)-2]); calc != binary.BigEndian.Uint16(got[len(got)-2:]) {
		t.Errorf("trailing CRC does not cover the padded payload")
	}
	if _, err := ParseDatagram(got); err != nil {
		t.Errorf("ParseDatagram rejected padded datagram: %v", err)
	}
}

func TestBuilder_AllocationFailureFailsClosed(t *testing.T) {
	pool := NewSlabPool(16, 1)
	if _, err := pool.Get(1); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	b, err := NewBuilder(pool, 4, TypeMotor)
	if !errors.Is(err, ErrAllocation) || !errors.Is(err, ErrSlabExhausted) {
		t.Fatalf("error = %v, want ErrAllocation wrapping ErrSlabExhausted", err)
	}
	if b == nil {
		t.Fatal("builder should never be nil")
	}

	b.Write32(0x01020304)
	b.Write8(1)
	d := b.Finalize()
	if !d.Empty() || d.Len() != 0 || d.Bytes() != nil {
		t.Errorf("fail-closed finalize should return an empty datagram, got %d bytes", d.Len())
	}
	d.Release()
	if pool.InUse() != 1 {
		t.Errorf("releasing an empty datagram changed the pool: InUse() = %d", pool.InUse())
	}
}

func TestBuilder_SlabTooSmall(t *testing.T) {
	pool := NewSlabPool(16, 0)
	b, err := NewBuilder(pool, AttitudePayloadSize, TypeAttitude)
	if !errors.Is(err, ErrSlabTooSmall) {
		t.Fatalf("error = %v, want ErrSlabTooSmall", err)
	}
	if !b.Finalize().Empty() {
		t.Error("expected empty datagram")
	}
}

func TestBuilder_OneShot(t *testing.T) {
	b, _ := NewBuilder(nil, 4, TypeMotor)
	b.Write32(7)
	first := b.Finalize()
	b.Write32(8)
	second := b.Finalize()

	if first.Len() != 4+Overhead {
		t.Errorf("first Finalize Len() = %d", first.Len())
	}
	if !second.Empty() {
		t.Error("second Finalize should return an empty datagram")
	}
	if binary.BigEndian.Uint32(first.Bytes()[HeaderSize:]) != 7 {
		t.Error("write after Finalize modified the datagram")
	}
}

// ============================================================
// Datagram Tests
// ============================================================

func TestDatagram_ReleaseIdempotent(t *testing.T) {
	pool := NewSlabPool(DefaultSlabSize, 4)
	d, err := BuildDatagram(pool, &MotorFrame{Timestamp: 1, PacketNumber: 2, Pressure: 3})
	if err != nil {
		t.Fatalf("BuildDatagram failed: %v", err)
	}
	if pool.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1", pool.InUse())
	}
	if d.Type() != TypeMotor {
		t.Errorf("Type() = 0x%02X, want 0x%02X", d.Type(), TypeMotor)
	}

	d.Release()
	d.Release()
	if pool.InUse() != 0 {
		t.Errorf("InUse() after double release = %d, want 0", pool.InUse())
	}
	if d.Bytes() != nil {
		t.Error("Bytes() should be nil after Release")
	}
}

func TestDatagram_Seq(t *testing.T) {
	d := NewOrderDatagram(1, 1, StateOpenFillValve)
	d.SetSeq(99)
	if d.Seq() != 99 {
		t.Errorf("Seq() = %d, want 99", d.Seq())
	}
}

// ============================================================
// Frame Layout Tests
// ============================================================

func TestFrameSizes(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"attitude", sampleAttitude()},
		{"airbrakes", &AirbrakesFrame{Timestamp: 1, PacketNumber: 2, Angle: 30}},
		{"gps", &GPSFrame{Timestamp: 1, PacketNumber: 2, GPSSample: GPSSample{Sats: 9, HDOP: 0.9, Lat: 46.5, Lon: 6.5, Altitude: 400}}},
		{"motor", &MotorFrame{Timestamp: 1, PacketNumber: 2, Pressure: 35}},
		{"status", &StatusFrame{Timestamp: 1, PacketNumber: 2, ID: 3, Value: 4, AvState: AvStateArmed}},
		{"order", &CommandFrame{Kind: TypeOrder, Timestamp: 1, PacketNumber: 2, Code: 1}},
		{"ignition", &CommandFrame{Kind: TypeIgnition, Timestamp: 1, PacketNumber: 2, Code: IgnitionCode}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := NewBuilder(nil, PayloadSize(tt.frame.Type()), tt.frame.Type())
			tt.frame.encode(b)
			if b.Len()-HeaderSize != PayloadSize(tt.frame.Type()) {
				t.Errorf("encoded %d payload bytes, want %d", b.Len()-HeaderSize, PayloadSize(tt.frame.Type()))
			}
		})
	}
}

func TestAttitudeLayout(t *testing.T) {
	data := mustBuild(t, sampleAttitude())
	payload := data[HeaderSize : len(data)-CRCSize]

	if binary.BigEndian.Uint32(payload[0:4]) != 123456 {
		t.Error("timestamp not at offset 0")
	}
	if binary.BigEndian.Uint32(payload[4:8]) != 42 {
		t.Error("packet number not at offset 4")
	}
	if math.Float32frombits(binary.BigEndian.Uint32(payload[16:20])) != 9.81 {
		t.Error("acc.z not at offset 16")
	}
	if math.Float32frombits(binary.BigEndian.Uint32(payload[36:40])) != 1013.25 {
		t.Error("baro pressure not at offset 36")
	}
	if math.Float32frombits(binary.BigEndian.Uint32(payload[44:48])) != 1500 {
		t.Error("altitude not at offset 44")
	}
}

func TestGPSLayout(t *testing.T) {
	data := mustBuild(t, &GPSFrame{
		Timestamp:    5,
		PacketNumber: 6,
		GPSSample:    GPSSample{Sats: 11, HDOP: 1.25, Lat: 46.5, Lon: 6.5, Altitude: -12},
	})
	payload := data[HeaderSize : len(data)-CRCSize]

	if payload[8] != 11 {
		t.Errorf("sats = %d, want 11 at offset 8", payload[8])
	}
	if int32(binary.BigEndian.Uint32(payload[21:25])) != -12 {
		t.Error("altitude not at offset 21")
	}
}

func TestStatusLayout(t *testing.T) {
	data := mustBuild(t, &StatusFrame{Timestamp: 1, PacketNumber: 2, ID: 7, Value: 0.5, AvState: AvStateCoast})
	payload := data[HeaderSize : len(data)-CRCSize]

	if payload[8] != 7 {
		t.Errorf("id = %d, want 7", payload[8])
	}
	if payload[13] != uint8(AvStateCoast) {
		t.Errorf("av_state = %d, want %d", payload[13], AvStateCoast)
	}
}

func TestDecodeFrame_RoundTrip(t *testing.T) {
	frames := []Frame{
		sampleAttitude(),
		&AirbrakesFrame{Timestamp: 10, PacketNumber: 11, Angle: 45.5},
		&GPSFrame{Timestamp: 10, PacketNumber: 12, GPSSample: GPSSample{Sats: 7, HDOP: 1.1, Lat: -33.9, Lon: 151.2, Altitude: 12345}},
		&MotorFrame{Timestamp: 10, PacketNumber: 13, Pressure: 42.5},
		&StatusFrame{Timestamp: 10, PacketNumber: 14, ID: 2, Value: -1.25, AvState: AvStateDescent},
		&CommandFrame{Kind: TypeOrder, Timestamp: 10, PacketNumber: 15, Code: 4},
	}

	for _, f := range frames {
		t.Run(FormatMessageType(f.Type()), func(t *testing.T) {
			p, err := ParseDatagram(mustBuild(t, f))
			if err != nil {
				t.Fatalf("ParseDatagram failed: %v", err)
			}
			got, err := p.Frame()
			if err != nil {
				t.Fatalf("Frame failed: %v", err)
			}
			if FramePacketNumber(got) != FramePacketNumber(f) {
				t.Errorf("packet number = %d, want %d", FramePacketNumber(got), FramePacketNumber(f))
			}
			if FormatFrame(got) != FormatFrame(f) {
				t.Errorf("decoded frame differs:\n got %s want %s", FormatFrame(got), FormatFrame(f))
			}
		})
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	if _, err := DecodeFrame(0x7E, nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type error = %v", err)
	}
	if _, err := DecodeFrame(TypeMotor, make([]byte, 11)); !errors.Is(err, ErrPayloadLength) {
		t.Errorf("short payload error = %v", err)
	}
}

// ============================================================
// ParseDatagram Tests
// ============================================================

func TestParseDatagram(t *testing.T) {
	valid := mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 2, Pressure: 3})

	corrupt := append([]byte(nil), valid...)
	corrupt[HeaderSize] ^= 0xFF

	badMarker := append([]byte(nil), valid...)
	badMarker[2] = 'X'

	unknown := append([]byte(nil), valid...)
	unknown[0] = 0x7E

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"valid", valid, nil},
		{"corrupt payload", corrupt, ErrCRCMismatch},
		{"bad marker", badMarker, ErrBadMarker},
		{"unknown type", unknown, ErrUnknownType},
		{"truncated", valid[:len(valid)-1], ErrPayloadLength},
		{"too short", valid[:3], ErrPayloadLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseDatagram(tt.data)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if p.Type() != TypeMotor || p.Length() != MotorPayloadSize {
					t.Errorf("packet type/len = 0x%02X/%d", p.Type(), p.Length())
				}
				if !bytes.Equal(p.Bytes(), tt.data) {
					t.Error("Bytes() should re-encode the original datagram")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_SingleDatagram(t *testing.T) {
	data := mustBuild(t, sampleAttitude())
	packets, errs := decodeAll(data)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if packets[0].Type() != TypeAttitude || packets[0].Length() != AttitudePayloadSize {
		t.Errorf("packet type/len = 0x%02X/%d", packets[0].Type(), packets[0].Length())
	}
}

func TestDecoder_BackToBack(t *testing.T) {
	var stream []byte
	stream = append(stream, mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 1, Pressure: 1})...)
	stream = append(stream, mustBuild(t, &AirbrakesFrame{Timestamp: 2, PacketNumber: 2, Angle: 2})...)
	stream = append(stream, mustBuild(t, &StatusFrame{Timestamp: 3, PacketNumber: 3, ID: 1, Value: 1})...)

	packets, errs := decodeAll(stream)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []uint8{TypeMotor, TypeAirbrakes, TypeStatus}
	if len(packets) != len(want) {
		t.Fatalf("got %d packets, want %d", len(packets), len(want))
	}
	for i, p := range packets {
		if p.Type() != want[i] {
			t.Errorf("packet %d type = 0x%02X, want 0x%02X", i, p.Type(), want[i])
		}
	}
}

func TestDecoder_SkipsNoise(t *testing.T) {
	noise := []byte{0xFF, 0x7E, 0x55, 0xAA}
	stream := append(noise, mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 1, Pressure: 1})...)

	d := NewDecoder()
	var got *Packet
	d.Decode(stream, func(p *Packet) { got = p }, nil)
	if got == nil {
		t.Fatal("decoder did not resynchronize after noise")
	}
	if d.Skipped() != len(noise) {
		t.Errorf("Skipped() = %d, want %d", d.Skipped(), len(noise))
	}
}

func TestDecoder_ResyncAfterFalseStart(t *testing.T) {
	// 0x02 is a valid type tag but is not followed by the marker
	stream := []byte{TypeAirbrakes, 'E', 'X'}
	stream = append(stream, mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 1, Pressure: 1})...)

	packets, errs := decodeAll(stream)
	if len(packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(packets))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrBadMarker) {
		t.Errorf("errors = %v, want one ErrBadMarker", errs)
	}
}

func TestDecoder_MarkerMismatchOnTypeByte(t *testing.T) {
	// A type tag interrupting a marker starts a new datagram
	valid := mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 1, Pressure: 1})
	stream := append([]byte{TypeGPS, 'E', 'P'}, valid...)

	packets, _ := decodeAll(stream)
	if len(packets) != 1 || packets[0].Type() != TypeMotor {
		t.Fatalf("expected one MOTOR packet after interrupted marker, got %d", len(packets))
	}
}

func TestDecoder_CRCError(t *testing.T) {
	data := mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 1, Pressure: 1})
	data[len(data)-1] ^= 0x01

	packets, errs := decodeAll(data)
	if len(packets) != 0 {
		t.Error("corrupt datagram should not produce a packet")
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrCRCMismatch) {
		t.Fatalf("errors = %v, want one ErrCRCMismatch", errs)
	}
	if got := errs[0].Error(); len(got) < 12 || got[:12] != "CRC mismatch" {
		t.Errorf("error message %q should start with 'CRC mismatch'", got)
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	data := mustBuild(t, &MotorFrame{Timestamp: 1, PacketNumber: 1, Pressure: 1})
	for _, b := range data[:8] {
		d.DecodeByte(b)
	}
	if len(d.GetRawBytes()) != 8 {
		t.Errorf("GetRawBytes() len = %d, want 8", len(d.GetRawBytes()))
	}
	d.Reset()
	if len(d.GetRawBytes()) != 0 {
		t.Error("Reset should clear the assembled bytes")
	}
}

// ============================================================
// Uplink Command Tests
// ============================================================

func TestDecodeCommand(t *testing.T) {
	packet := []byte{0x00, 0x00, 0x00, 0x64, 0x00, 0x00, 0x00, 0x01, 0x02}
	c, err := DecodeCommand(packet)
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if c.Timestamp != 100 || c.PacketNumber != 1 || c.Code != 2 {
		t.Errorf("command = %+v", c)
	}

	if _, err := DecodeCommand(packet[:8]); !errors.Is(err, ErrShortPacket) {
		t.Errorf("short packet error = %v, want ErrShortPacket", err)
	}

	if !bytes.Equal(EncodeCommand(c), packet) {
		t.Error("EncodeCommand should reproduce the packet")
	}
}

func TestNewOrderDatagram(t *testing.T) {
	d := NewOrderDatagram(100, 1, StateDisconnectHose)
	p, err := ParseDatagram(d.Bytes())
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	if p.Type() != TypeOrder || !p.IsUplink() {
		t.Errorf("Type() = 0x%02X, want ORDER", p.Type())
	}
	c, _ := DecodeCommand(p.Payload())
	if c.Code != uint8(StateDisconnectHose) || c.Timestamp != 100 {
		t.Errorf("command = %+v", c)
	}
}

func TestNewIgnitionDatagram(t *testing.T) {
	p, err := ParseDatagram(NewIgnitionDatagram(5, 6).Bytes())
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	c, _ := DecodeCommand(p.Payload())
	if p.Type() != TypeIgnition || c.Code != IgnitionCode {
		t.Errorf("type/code = 0x%02X/0x%02X", p.Type(), c.Code)
	}
}

func TestParseVehicleState(t *testing.T) {
	tests := []struct {
		name    string
		want    VehicleState
		wantErr bool
	}{
		{"open-fill-valve", StateOpenFillValve, false},
		{"close-fill-valve", StateCloseFillValve, false},
		{"disconnect-hose", StateDisconnectHose, false},
		{"launch", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVehicleState(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("state = %d, want %d", got, tt.want)
			}
		})
	}
}
