// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

// packetFor builds and parses a datagram for a frame
func packetFor(t *testing.T, f Frame) *Packet {
	t.Helper()
	p, err := ParseDatagram(mustBuild(t, f))
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	return p
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidatePacket(t *testing.T) {
	nan := float32(math.NaN())

	tests := []struct {
		name      string
		frame     Frame
		wantCount int
		wantType  AnomalyType
	}{
		{"valid attitude", sampleAttitude(), 0, 0},
		{"attitude NaN speed", func() Frame { f := sampleAttitude(); f.Speed = nan; return f }(), 1, AnomalyNonFinite},
		{"attitude high acceleration", func() Frame { f := sampleAttitude(); f.Acceleration.X = 80; return f }(), 1, AnomalyInvalidValue},
		{"valid airbrakes", &AirbrakesFrame{Angle: 45}, 0, 0},
		{"airbrakes negative angle", &AirbrakesFrame{Angle: -5}, 1, AnomalyInvalidAngle},
		{"valid gps", &GPSFrame{GPSSample: GPSSample{Sats: 8, HDOP: 1, Lat: 46.5, Lon: 6.6, Altitude: 450}}, 0, 0},
		{"gps bad latitude", &GPSFrame{GPSSample: GPSSample{Sats: 8, HDOP: 1, Lat: 123, Lon: 6.6, Altitude: 450}}, 1, AnomalyInvalidPosition},
		{"gps too many sats", &GPSFrame{GPSSample: GPSSample{Sats: 200, HDOP: 1, Lat: 1, Lon: 1}}, 1, AnomalyInvalidValue},
		{"valid motor", &MotorFrame{Pressure: 30}, 0, 0},
		{"motor negative pressure", &MotorFrame{Pressure: -1}, 1, AnomalyInvalidValue},
		{"motor infinite pressure", &MotorFrame{Pressure: float32(math.Inf(1))}, 1, AnomalyNonFinite},
		{"valid status", &StatusFrame{ID: 1, Value: 2, AvState: AvStateCoast}, 0, 0},
		{"status bad av_state", &StatusFrame{ID: 1, Value: 2, AvState: 99}, 1, AnomalyInvalidState},
		{"order has no checks", &CommandFrame{Kind: TypeOrder, Code: 200}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePacket(packetFor(t, tt.frame))
			if len(errs) != tt.wantCount {
				t.Fatalf("got %d validation errors, want %d: %v", len(errs), tt.wantCount, errs)
			}
			if tt.wantCount > 0 && errs[0].Type != tt.wantType {
				t.Errorf("anomaly type = %d, want %d", errs[0].Type, tt.wantType)
			}
		})
	}
}

func TestValidatePacket_WrongLength(t *testing.T) {
	p := NewPacket(TypeGPS, make([]byte, 3), 0)
	errs := ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyLengthMismatch {
		t.Fatalf("errors = %v, want one length mismatch", errs)
	}
	if errs[0].Details["expected"] != GPSPayloadSize {
		t.Errorf("expected detail = %v", errs[0].Details["expected"])
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	s.Update(nil, fmt.Errorf("%w: expected 0x0000, got 0x0001", ErrCRCMismatch), nil)
	s.Update(nil, ErrBadMarker, nil)
	valid := packetFor(t, &MotorFrame{PacketNumber: 1, Pressure: 10})
	s.Update(valid, nil, ValidatePacket(valid))
	bad := packetFor(t, &AirbrakesFrame{PacketNumber: 2, Angle: 200})
	s.Update(bad, nil, ValidatePacket(bad))

	if s.TotalPackets != 4 {
		t.Errorf("TotalPackets = %d, want 4", s.TotalPackets)
	}
	if s.CRCErrors != 1 || s.DecodeErrors != 1 {
		t.Errorf("CRC/decode errors = %d/%d, want 1/1", s.CRCErrors, s.DecodeErrors)
	}
	if s.ValidPackets != 1 {
		t.Errorf("ValidPackets = %d, want 1", s.ValidPackets)
	}
	if s.InvalidAngle != 1 || s.AnomalousValues != 1 {
		t.Errorf("InvalidAngle/AnomalousValues = %d/%d, want 1/1", s.InvalidAngle, s.AnomalousValues)
	}
	if s.PerType[TypeMotor] != 1 || s.PerType[TypeAirbrakes] != 1 {
		t.Errorf("PerType = %v", s.PerType)
	}
	if s.ErrorCount() != 3 {
		t.Errorf("ErrorCount() = %d, want 3", s.ErrorCount())
	}
}

func TestStatistics_LostPackets(t *testing.T) {
	s := NewStatistics()
	for _, n := range []uint32{10, 11, 15, 16, 3} {
		p := packetFor(t, &MotorFrame{PacketNumber: n, Pressure: 1})
		s.Update(p, nil, nil)
	}
	// 12, 13, 14 missing; the drop to 3 is a restart
	if s.LostPackets != 3 {
		t.Errorf("LostPackets = %d, want 3", s.LostPackets)
	}

	// Uplink packets carry the ground station's counter and are ignored
	s.Update(packetFor(t, &CommandFrame{Kind: TypeOrder, PacketNumber: 1000}), nil, nil)
	if s.LostPackets != 3 {
		t.Errorf("uplink packet changed LostPackets to %d", s.LostPackets)
	}
}

func TestStatistics_StringAndReset(t *testing.T) {
	s := NewStatistics()
	s.Update(nil, ErrCRCMismatch, nil)
	out := s.String()
	for _, want := range []string{"Total Packets:", "CRC Errors:", "Packet Rate:"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}

	s.Reset()
	if s.TotalPackets != 0 || s.CRCErrors != 0 || s.PerType == nil {
		t.Error("Reset should zero counters and keep maps usable")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	tests := map[uint8]string{
		TypeAttitude:  "ATTITUDE",
		TypeStatus:    "STATUS",
		TypeAirbrakes: "AIRBRAKES",
		TypeGPS:       "GPS",
		TypeMotor:     "MOTOR",
		TypeOrder:     "ORDER",
		TypeIgnition:  "IGNITION",
		0xEE:          "UNKNOWN",
	}
	for msgType, want := range tests {
		if got := FormatMessageType(msgType); got != want {
			t.Errorf("FormatMessageType(0x%02X) = %q, want %q", msgType, got, want)
		}
	}
}

func TestFormatPacket(t *testing.T) {
	out := FormatPacket(packetFor(t, &CommandFrame{Kind: TypeOrder, Timestamp: 61500, Code: uint8(StateOpenFillValve)}))
	for _, want := range []string{"ORDER (0x10)", "OPEN_FILL_VALVE", "01:01.500"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatPacket missing %q:\n%s", want, out)
		}
	}

	bad := FormatPacket(NewPacket(TypeMotor, []byte{1}, 0))
	if !strings.Contains(bad, "undecodable") {
		t.Errorf("malformed packet should be flagged:\n%s", bad)
	}
}

// ============================================================
// Flight Record Tests
// ============================================================

func TestFlightRecord(t *testing.T) {
	var buf bytes.Buffer
	rw, err := NewRecordWriter(&buf)
	if err != nil {
		t.Fatalf("NewRecordWriter failed: %v", err)
	}

	packets := []*Packet{
		packetFor(t, sampleAttitude()),
		packetFor(t, &MotorFrame{Timestamp: 9, PacketNumber: 43, Pressure: 12}),
	}
	for _, p := range packets {
		if err := rw.Write(p); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if rw.Count() != 2 {
		t.Errorf("Count() = %d, want 2", rw.Count())
	}

	records, err := ReadRecords(&buf)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(records) != len(packets) {
		t.Fatalf("read %d records, want %d", len(records), len(packets))
	}
	for i, rec := range records {
		p := rec.Packet()
		if !bytes.Equal(p.Bytes(), packets[i].Bytes()) {
			t.Errorf("record %d does not reproduce the datagram", i)
		}
		if !p.Timestamp().Equal(packets[i].Timestamp().Round(0)) {
			t.Errorf("record %d timestamp = %v, want %v", i, p.Timestamp(), packets[i].Timestamp())
		}
	}
}

func TestReadRecords_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rw, _ := NewRecordWriter(&buf)
	rw.Write(NewPacket(TypeMotor, make([]byte, MotorPayloadSize), 0))
	data := buf.Bytes()

	records, err := ReadRecords(bytes.NewReader(data[:len(data)-3]))
	if err == nil {
		t.Error("expected error for truncated record")
	}
	if len(records) != 0 {
		t.Errorf("got %d records from a truncated stream", len(records))
	}
}

func TestRecordPacketTimestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 500, time.UTC)
	p := Record{ReceivedAt: at.UnixNano(), Type: TypeMotor}.Packet()
	if !p.Timestamp().Equal(at) {
		t.Errorf("Timestamp() = %v, want %v", p.Timestamp(), at)
	}
}
