// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import "fmt"

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d crc=0x%04X\n", timestamp, msgType, p.Type(), p.Length(), p.crc)

	frame, err := p.Frame()
	if err != nil {
		return result + fmt.Sprintf("  (undecodable payload: %v)\n", err)
	}
	return result + FormatFrame(frame)
}

// FormatMessageType returns the human-readable name for a datagram type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Downlink telemetry (0x00-0x0F)
	case TypeAttitude:
		return "ATTITUDE"
	case TypeStatus:
		return "STATUS"
	case TypeAirbrakes:
		return "AIRBRAKES"
	case TypeGPS:
		return "GPS"
	case TypeMotor:
		return "MOTOR"

	// Uplink commands (0x10-0x1F)
	case TypeOrder:
		return "ORDER"
	case TypeIgnition:
		return "IGNITION"

	default:
		return "UNKNOWN"
	}
}

// StreamName returns the lowercase stream name used for topics and metric labels
func StreamName(msgType uint8) string {
	switch msgType {
	case TypeAttitude:
		return "attitude"
	case TypeStatus:
		return "status"
	case TypeAirbrakes:
		return "airbrakes"
	case TypeGPS:
		return "gps"
	case TypeMotor:
		return "motor"
	case TypeOrder:
		return "order"
	case TypeIgnition:
		return "ignition"
	default:
		return "unknown"
	}
}

// FormatFrame formats the fields of a decoded frame
func FormatFrame(frame Frame) string {
	switch f := frame.(type) {
	case *AttitudeFrame:
		return fmt.Sprintf("  T+%s #%d\n"+
			"  Acc: (%.3f, %.3f, %.3f) g  Euler: (%.2f, %.2f, %.2f)°\n"+
			"  Baro: %.2f°C %.2f hPa  Speed: %.2f m/s  Altitude: %.1f m\n",
			formatDuration(uint64(f.Timestamp)), f.PacketNumber,
			f.Acceleration.X, f.Acceleration.Y, f.Acceleration.Z,
			f.Euler.X, f.Euler.Y, f.Euler.Z,
			f.BaroTemperature, f.BaroPressure, f.Speed, f.Altitude)

	case *AirbrakesFrame:
		return fmt.Sprintf("  T+%s #%d  Angle: %.2f°\n",
			formatDuration(uint64(f.Timestamp)), f.PacketNumber, f.Angle)

	case *GPSFrame:
		return fmt.Sprintf("  T+%s #%d  Sats: %d  HDOP: %.1f  Lat: %.6f  Lon: %.6f  Alt: %d m\n",
			formatDuration(uint64(f.Timestamp)), f.PacketNumber, f.Sats, f.HDOP, f.Lat, f.Lon, f.Altitude)

	case *MotorFrame:
		return fmt.Sprintf("  T+%s #%d  Pressure: %.2f bar\n",
			formatDuration(uint64(f.Timestamp)), f.PacketNumber, f.Pressure)

	case *StatusFrame:
		return fmt.Sprintf("  T+%s #%d  Warning: %d  Value: %.3f  State: %s (%d)\n",
			formatDuration(uint64(f.Timestamp)), f.PacketNumber, f.ID, f.Value, FormatAvState(f.AvState), f.AvState)

	case *CommandFrame:
		code := fmt.Sprintf("0x%02X", f.Code)
		if f.Kind == TypeOrder {
			code = fmt.Sprintf("%s (%d)", FormatVehicleState(VehicleState(f.Code)), f.Code)
		}
		return fmt.Sprintf("  T+%s #%d  Code: %s\n",
			formatDuration(uint64(f.Timestamp)), f.PacketNumber, code)
	}
	return "  (no payload)\n"
}

// FormatVehicleState returns the name of a vehicle state code
func FormatVehicleState(state VehicleState) string {
	switch state {
	case StateIdle:
		return "IDLE"
	case StateOpenFillValve:
		return "OPEN_FILL_VALVE"
	case StateCloseFillValve:
		return "CLOSE_FILL_VALVE"
	case StateOpenPurgeValve:
		return "OPEN_PURGE_VALVE"
	case StateDisconnectHose:
		return "DISCONNECT_HOSE"
	default:
		return "UNKNOWN"
	}
}

// FormatAvState returns the name of an avionics state
func FormatAvState(state AvState) string {
	switch state {
	case AvStateIdle:
		return "IDLE"
	case AvStateCalibration:
		return "CALIBRATION"
	case AvStateArmed:
		return "ARMED"
	case AvStatePoweredAscent:
		return "POWERED_ASCENT"
	case AvStateCoast:
		return "COAST"
	case AvStateDescent:
		return "DESCENT"
	case AvStateTouchdown:
		return "TOUCHDOWN"
	case AvStateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// formatDuration formats a millisecond tick as mm:ss.mmm
func formatDuration(ms uint64) string {
	minutes := ms / 60000
	seconds := (ms / 1000) % 60
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, millis)
}
