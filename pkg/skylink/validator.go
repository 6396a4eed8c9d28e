// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyNonFinite
	AnomalyInvalidPosition
	AnomalyInvalidAngle
	AnomalyInvalidValue
	AnomalyInvalidState
	AnomalyDecodeError
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Plausibility limits
const (
	maxSatellites    = 64
	maxHDOP          = 99.9
	maxAirbrakeAngle = 90.0
	maxMotorPressure = 200.0 // bar
	maxAcceleration  = 50.0  // g
	maxBaroPressure  = 1200.0
	minBaroPressure  = 0.0
	minBaroTemp      = -60.0
	maxBaroTemp      = 120.0
	maxStatusAvState = uint8(AvStateError)
	minGPSAltitude   = -500
	maxGPSAltitude   = 50000
	maxAbsLatitude   = 90.0
	maxAbsLongitude  = 180.0
)

// ValidatePacket validates packet structure and detects anomalies
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p *Packet) []ValidationError {
	frame, err := p.Frame()
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: err.Error(),
			Details: map[string]interface{}{"length": p.Length(), "expected": PayloadSize(p.Type())},
		}}
	}

	switch f := frame.(type) {
	case *AttitudeFrame:
		return validateAttitude(f)
	case *AirbrakesFrame:
		return validateAirbrakes(f)
	case *GPSFrame:
		return validateGPS(f)
	case *MotorFrame:
		return validateMotor(f)
	case *StatusFrame:
		return validateStatus(f)
	}
	return []ValidationError{}
}

// checkFinite appends an error for each NaN or infinite field
func checkFinite(errors []ValidationError, fields map[string]float32) []ValidationError {
	for name, v := range fields {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyNonFinite,
				Message: fmt.Sprintf("%s is not finite (%v)", name, v),
				Details: map[string]interface{}{"field": name},
			})
		}
	}
	return errors
}

// outOfRange reports whether v is outside [min, max]; NaN is handled by checkFinite
func outOfRange(v, min, max float64) bool {
	return v < min || v > max
}

// validateAttitude validates an ATTITUDE datagram
func validateAttitude(f *AttitudeFrame) []ValidationError {
	errors := checkFinite([]ValidationError{}, map[string]float32{
		"acc.x": f.Acceleration.X, "acc.y": f.Acceleration.Y, "acc.z": f.Acceleration.Z,
		"euler.x": f.Euler.X, "euler.y": f.Euler.Y, "euler.z": f.Euler.Z,
		"baro.temperature": f.BaroTemperature, "baro.pressure": f.BaroPressure,
		"speed": f.Speed, "altitude": f.Altitude,
	})

	acc := f.Acceleration
	for name, v := range map[string]float32{"acc.x": acc.X, "acc.y": acc.Y, "acc.z": acc.Z} {
		if outOfRange(float64(v), -maxAcceleration, maxAcceleration) {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Acceleration %s out of range (%.2f g, max ±%.0f)", name, v, maxAcceleration),
				Details: map[string]interface{}{"field": name, "value": v, "max": maxAcceleration},
			})
		}
	}

	if outOfRange(float64(f.BaroPressure), minBaroPressure, maxBaroPressure) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Barometric pressure out of range (%.1f hPa, valid: %.0f to %.0f)", f.BaroPressure, minBaroPressure, maxBaroPressure),
			Details: map[string]interface{}{"value": f.BaroPressure, "min": minBaroPressure, "max": maxBaroPressure},
		})
	}

	if outOfRange(float64(f.BaroTemperature), minBaroTemp, maxBaroTemp) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Barometer temperature out of range (%.1f°C, valid: %.0f to %.0f°C)", f.BaroTemperature, minBaroTemp, maxBaroTemp),
			Details: map[string]interface{}{"value": f.BaroTemperature, "min": minBaroTemp, "max": maxBaroTemp},
		})
	}

	return errors
}

// validateAirbrakes validates an AIRBRAKES datagram
func validateAirbrakes(f *AirbrakesFrame) []ValidationError {
	errors := checkFinite([]ValidationError{}, map[string]float32{"angle": f.Angle})

	if outOfRange(float64(f.Angle), 0, maxAirbrakeAngle) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidAngle,
			Message: fmt.Sprintf("Airbrake angle out of range (%.1f°, valid: 0 to %.0f°)", f.Angle, maxAirbrakeAngle),
			Details: map[string]interface{}{"value": f.Angle, "min": 0.0, "max": maxAirbrakeAngle},
		})
	}

	return errors
}

// validateGPS validates a GPS datagram
func validateGPS(f *GPSFrame) []ValidationError {
	errors := checkFinite([]ValidationError{}, map[string]float32{
		"hdop": f.HDOP, "lat": f.Lat, "lon": f.Lon,
	})

	if f.Sats > maxSatellites {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid sats=%d (max %d)", f.Sats, maxSatellites),
			Details: map[string]interface{}{"sats": f.Sats, "max": maxSatellites},
		})
	}

	if outOfRange(float64(f.HDOP), 0, maxHDOP) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("HDOP out of range (%.1f, valid: 0 to %.1f)", f.HDOP, maxHDOP),
			Details: map[string]interface{}{"value": f.HDOP, "max": maxHDOP},
		})
	}

	if outOfRange(float64(f.Lat), -maxAbsLatitude, maxAbsLatitude) ||
		outOfRange(float64(f.Lon), -maxAbsLongitude, maxAbsLongitude) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidPosition,
			Message: fmt.Sprintf("Position out of range (lat=%.5f, lon=%.5f)", f.Lat, f.Lon),
			Details: map[string]interface{}{"lat": f.Lat, "lon": f.Lon},
		})
	}

	if f.Altitude < minGPSAltitude || f.Altitude > maxGPSAltitude {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidPosition,
			Message: fmt.Sprintf("GPS altitude out of range (%d m, valid: %d to %d)", f.Altitude, minGPSAltitude, maxGPSAltitude),
			Details: map[string]interface{}{"altitude": f.Altitude, "min": minGPSAltitude, "max": maxGPSAltitude},
		})
	}

	return errors
}

// validateMotor validates a MOTOR datagram
func validateMotor(f *MotorFrame) []ValidationError {
	errors := checkFinite([]ValidationError{}, map[string]float32{"pressure": f.Pressure})

	if outOfRange(float64(f.Pressure), 0, maxMotorPressure) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Motor pressure out of range (%.2f bar, valid: 0 to %.0f)", f.Pressure, maxMotorPressure),
			Details: map[string]interface{}{"value": f.Pressure, "min": 0.0, "max": maxMotorPressure},
		})
	}

	return errors
}

// validateStatus validates a STATUS datagram
func validateStatus(f *StatusFrame) []ValidationError {
	errors := checkFinite([]ValidationError{}, map[string]float32{"value": f.Value})

	if uint8(f.AvState) > maxStatusAvState {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidState,
			Message: fmt.Sprintf("Invalid av_state=%d (max %d)", f.AvState, maxStatusAvState),
			Details: map[string]interface{}{"av_state": uint8(f.AvState), "max": maxStatusAvState},
		})
	}

	return errors
}
