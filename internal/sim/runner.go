// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/temoto/alive/v2"

	"github.com/Thermoquad/skylink/pkg/skylink"
)

// Producer is the onboard telemetry scheduler
type Producer interface {
	SendIMU(skylink.IMUSample) bool
	SendBaro(skylink.BaroSample) bool
	SendGPS(skylink.GPSSample) bool
	SendMotorPressure(float32) bool
	SendWarning(id uint8, value float32, state skylink.AvState) bool
	SendAirbrakes() bool
}

// Warning identifiers reported in status datagrams
const (
	WarningStateChange uint8 = 0x01
	WarningAltitude    uint8 = 0x02
)

// Sensor rates, as divisors of the base tick
const (
	baseTick     = 5 * time.Millisecond
	imuEvery     = 2  // 100 Hz
	baroEvery    = 4  // 50 Hz
	gpsEvery     = 20 // 10 Hz
	motorEvery   = 10 // 20 Hz
	brakesEvery  = 20 // 10 Hz
	warningEvery = 40 // 5 Hz
)

// Runner feeds simulated sensor samples to a Producer at sensor rates
type Runner struct {
	vehicle  *Vehicle
	producer Producer
	alive    *alive.Alive
	logger   zerolog.Logger
}

func NewRunner(v *Vehicle, p Producer, logger zerolog.Logger) *Runner {
	return &Runner{
		vehicle:  v,
		producer: p,
		alive:    alive.NewAlive(),
		logger:   logger.With().Str("component", "sim").Logger(),
	}
}

func (r *Runner) Start() error {
	if !r.alive.Add(1) {
		return errors.Errorf("sim start after stop")
	}
	go r.run()
	return nil
}

func (r *Runner) run() {
	defer r.alive.Done()
	ticker := time.NewTicker(baseTick)
	defer ticker.Stop()

	var tick uint64
	last := r.vehicle.AvState()
	for {
		select {
		case <-r.alive.StopChan():
			return
		case <-ticker.C:
		}
		tick++
		r.vehicle.Step(baseTick)
		state := r.vehicle.AvState()
		if state != last {
			r.logger.Info().Str("from", skylink.FormatAvState(last)).Str("to", skylink.FormatAvState(state)).Msg("flight phase")
			r.producer.SendWarning(WarningStateChange, float32(state), state)
			last = state
		}
		r.Tick(tick)
	}
}

// Tick emits the samples due on base tick n
func (r *Runner) Tick(n uint64) {
	if n%imuEvery == 0 {
		r.producer.SendIMU(r.vehicle.IMU())
	}
	if n%baroEvery == 0 {
		r.producer.SendBaro(r.vehicle.Baro())
	}
	if n%gpsEvery == 0 {
		r.producer.SendGPS(r.vehicle.GPS())
	}
	if n%motorEvery == 0 {
		r.producer.SendMotorPressure(r.vehicle.MotorPressure())
	}
	if n%brakesEvery == 0 {
		r.producer.SendAirbrakes()
	}
	if n%warningEvery == 0 {
		r.producer.SendWarning(WarningAltitude, r.vehicle.Altitude(), r.vehicle.AvState())
	}
}

func (r *Runner) Stop() {
	r.alive.Stop()
	r.alive.Wait()
}

// Done is closed after Stop once the loop has exited
func (r *Runner) Done() <-chan struct{} {
	return r.alive.WaitChan()
}
