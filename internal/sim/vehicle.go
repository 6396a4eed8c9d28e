// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim is a simulated vehicle for exercising the onboard telemetry
// path without flight hardware.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/skylink/internal/telemetry"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// Profile shapes the simulated flight
type Profile struct {
	Countdown time.Duration // pad time before ignition
	Burn      time.Duration
	Thrust    float64 // m/s^2 net of gravity during the burn
	Apogee    float64 // deploy airbrakes above this altitude (m)
}

func DefaultProfile() Profile {
	return Profile{
		Countdown: 3 * time.Second,
		Burn:      4 * time.Second,
		Thrust:    60,
		Apogee:    800,
	}
}

const gravity = 9.81

// Clock is a millisecond tick counted from its creation
type Clock struct {
	start time.Time
}

func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// NowMillis wraps at 2^32 ms like a hardware tick counter
func (c *Clock) NowMillis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// Vehicle integrates a one-dimensional flight and holds the state requested
// over the uplink.
type Vehicle struct {
	profile Profile
	logger  zerolog.Logger

	mu       sync.Mutex
	t        float64 // seconds since ignition, negative on the pad
	altitude float64
	velocity float64
	maxAlt   float64
	ignited  bool
	state    skylink.VehicleState
	requests []telemetry.StateRequest
}

func NewVehicle(profile Profile, logger zerolog.Logger) *Vehicle {
	return &Vehicle{
		profile: profile,
		logger:  logger.With().Str("component", "vehicle").Logger(),
		t:       -profile.Countdown.Seconds(),
	}
}

// SetState applies an uplink state request. Ignition starts the burn
// immediately instead of waiting for the countdown.
func (v *Vehicle) SetState(req telemetry.StateRequest) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	switch req.DataID {
	case skylink.DataIDOrder:
		v.state = skylink.VehicleState(req.Code)
	case skylink.DataIDIgnition:
		if !v.ignited && v.t < 0 {
			v.t = 0
		}
	}
	v.logger.Info().Int32("code", req.Code).Uint8("data_id", req.DataID).Msg("state request applied")
}

func (v *Vehicle) State() skylink.VehicleState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Requests returns the state requests applied so far
func (v *Vehicle) Requests() []telemetry.StateRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]telemetry.StateRequest(nil), v.requests...)
}

// Step advances the simulation by dt
func (v *Vehicle) Step(dt time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := dt.Seconds()
	v.t += s
	if v.t < 0 {
		return
	}
	v.ignited = true

	accel := -gravity
	if v.t <= v.profile.Burn.Seconds() {
		accel = v.profile.Thrust
	}
	v.velocity += accel * s
	v.altitude += v.velocity * s
	if v.altitude <= 0 {
		v.altitude = 0
		if v.t > v.profile.Burn.Seconds() {
			v.velocity = 0
		}
	}
	v.maxAlt = math.Max(v.maxAlt, v.altitude)
}

func (v *Vehicle) Speed() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return float32(math.Abs(v.velocity))
}

func (v *Vehicle) Altitude() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return float32(v.altitude)
}

// AirbrakeAngle deploys proportionally above the target apogee while climbing
func (v *Vehicle) AirbrakeAngle() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.velocity <= 0 || v.altitude < v.profile.Apogee {
		return 0
	}
	return float32(math.Min(45, (v.altitude-v.profile.Apogee)/10))
}

// AvState derives the avionics state from the trajectory
func (v *Vehicle) AvState() skylink.AvState {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.t < 0:
		return skylink.AvStateArmed
	case v.t <= v.profile.Burn.Seconds():
		return skylink.AvStatePoweredAscent
	case v.velocity > 0:
		return skylink.AvStateCoast
	case v.altitude > 0:
		return skylink.AvStateDescent
	default:
		return skylink.AvStateTouchdown
	}
}

// MotorPressure is the chamber pressure in bar
func (v *Vehicle) MotorPressure() float32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.t < 0 || v.t > v.profile.Burn.Seconds() {
		return 1
	}
	return float32(30 + 5*math.Sin(v.t*3))
}

// IMU reports acceleration in g
func (v *Vehicle) IMU() skylink.IMUSample {
	v.mu.Lock()
	defer v.mu.Unlock()
	az := float32(1)
	if v.t >= 0 && v.t <= v.profile.Burn.Seconds() {
		az += float32(v.profile.Thrust / gravity)
	}
	return skylink.IMUSample{
		Acceleration: skylink.Vec3{X: 0.02, Y: -0.01, Z: az},
		Euler:        skylink.Vec3{X: 0, Y: 89.5, Z: float32(math.Mod(v.maxAlt, 360))},
	}
}

// Baro uses the standard atmosphere up to 11 km
func (v *Vehicle) Baro() skylink.BaroSample {
	v.mu.Lock()
	defer v.mu.Unlock()
	temp := 15 - 0.0065*v.altitude
	pressure := 1013.25 * math.Pow(1-2.25577e-5*v.altitude, 5.25588)
	return skylink.BaroSample{
		Temperature: float32(temp),
		Pressure:    float32(pressure),
	}
}

// GPS reports a fix above a fixed launch site
func (v *Vehicle) GPS() skylink.GPSSample {
	v.mu.Lock()
	defer v.mu.Unlock()
	return skylink.GPSSample{
		Sats:     11,
		HDOP:     0.9,
		Lat:      46.5191,
		Lon:      6.5668,
		Altitude: int32(v.altitude),
	}
}
