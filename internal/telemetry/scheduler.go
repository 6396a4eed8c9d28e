// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry produces rate-limited downlink datagrams and handles
// uplink commands onboard.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/skylink/internal/config"
	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// Clock is a monotonic millisecond tick that wraps at 2^32
type Clock interface {
	NowMillis() uint32
}

// Outbound accepts a datagram within timeout. On true the queue owns the
// datagram; on false ownership stays with the caller.
type Outbound interface {
	Enqueue(d *skylink.Datagram, timeout time.Duration) bool
}

// FlightData provides the values attached to attitude and airbrake datagrams
type FlightData interface {
	Speed() float32
	Altitude() float32
	AirbrakeAngle() float32
}

// Stream names used in logs and metrics
const (
	StreamAttitude  = "attitude"
	StreamGPS       = "gps"
	StreamMotor     = "motor"
	StreamWarning   = "warning"
	StreamAirbrakes = "airbrakes"
)

type stream struct {
	name     string
	interval uint32
	last     atomic.Uint32
	seq      atomic.Uint32
}

func (s *stream) init(name string, interval uint32) {
	s.name = name
	s.interval = interval
}

// gate claims a send slot when more than interval ms passed since the last
// one. The unsigned difference keeps it correct across tick wraparound.
func (s *stream) gate(now uint32) bool {
	for {
		last := s.last.Load()
		if now-last <= s.interval {
			return false
		}
		if s.last.CompareAndSwap(last, now) {
			return true
		}
	}
}

// Scheduler owns per-stream gates, sequence numbers and the packet counter
type Scheduler struct {
	pool    *skylink.SlabPool
	clock   Clock
	out     Outbound
	flight  FlightData
	timeout time.Duration
	logger  zerolog.Logger

	packets atomic.Uint32

	attitude  stream
	gps       stream
	motor     stream
	warning   stream
	airbrakes stream

	mu   sync.Mutex
	imu  skylink.IMUSample
	baro skylink.BaroSample
}

func NewScheduler(cfg config.Telemetry, pool *skylink.SlabPool, clock Clock, out Outbound, flight FlightData, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		pool:    pool,
		clock:   clock,
		out:     out,
		flight:  flight,
		timeout: cfg.EnqueueTimeout,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
	s.attitude.init(StreamAttitude, cfg.AttitudeInterval)
	s.gps.init(StreamGPS, cfg.GPSInterval)
	s.motor.init(StreamMotor, cfg.MotorInterval)
	s.warning.init(StreamWarning, cfg.WarningInterval)
	s.airbrakes.init(StreamAirbrakes, cfg.AirbrakesInterval)
	return s
}

// PacketCount returns the number of packet numbers handed out so far
func (s *Scheduler) PacketCount() uint32 {
	return s.packets.Load()
}

func (s *Scheduler) nextPacket() uint32 {
	return s.packets.Add(1) - 1
}

// SendIMU caches sample and sends an attitude datagram if the attitude gate is open
func (s *Scheduler) SendIMU(sample skylink.IMUSample) bool {
	now := s.clock.NowMillis()
	s.mu.Lock()
	s.imu = sample
	s.mu.Unlock()
	return s.sendAttitude(now)
}

// SendBaro caches sample and sends an attitude datagram if the attitude gate is open
func (s *Scheduler) SendBaro(sample skylink.BaroSample) bool {
	now := s.clock.NowMillis()
	s.mu.Lock()
	s.baro = sample
	s.mu.Unlock()
	return s.sendAttitude(now)
}

func (s *Scheduler) sendAttitude(now uint32) bool {
	if !s.suppress(&s.attitude, now) {
		return false
	}
	s.mu.Lock()
	imu, baro := s.imu, s.baro
	s.mu.Unlock()

	s.dispatch(&s.attitude, &skylink.AttitudeFrame{
		Timestamp:       now,
		PacketNumber:    s.nextPacket(),
		Acceleration:    imu.Acceleration,
		Euler:           imu.Euler,
		BaroTemperature: baro.Temperature,
		BaroPressure:    baro.Pressure,
		Speed:           s.flight.Speed(),
		Altitude:        s.flight.Altitude(),
	})
	return true
}

func (s *Scheduler) SendGPS(sample skylink.GPSSample) bool {
	now := s.clock.NowMillis()
	if !s.suppress(&s.gps, now) {
		return false
	}
	s.dispatch(&s.gps, &skylink.GPSFrame{
		Timestamp:    now,
		PacketNumber: s.nextPacket(),
		GPSSample:    sample,
	})
	return true
}

func (s *Scheduler) SendMotorPressure(pressure float32) bool {
	now := s.clock.NowMillis()
	if !s.suppress(&s.motor, now) {
		return false
	}
	s.dispatch(&s.motor, &skylink.MotorFrame{
		Timestamp:    now,
		PacketNumber: s.nextPacket(),
		Pressure:     pressure,
	})
	return true
}

func (s *Scheduler) SendWarning(id uint8, value float32, state skylink.AvState) bool {
	now := s.clock.NowMillis()
	if !s.suppress(&s.warning, now) {
		return false
	}
	s.dispatch(&s.warning, &skylink.StatusFrame{
		Timestamp:    now,
		PacketNumber: s.nextPacket(),
		ID:           id,
		Value:        value,
		AvState:      state,
	})
	return true
}

// SendAirbrakes reads the current airbrake angle from the flight data
func (s *Scheduler) SendAirbrakes() bool {
	now := s.clock.NowMillis()
	if !s.suppress(&s.airbrakes, now) {
		return false
	}
	s.dispatch(&s.airbrakes, &skylink.AirbrakesFrame{
		Timestamp:    now,
		PacketNumber: s.nextPacket(),
		Angle:        s.flight.AirbrakeAngle(),
	})
	return true
}

func (s *Scheduler) suppress(st *stream, now uint32) bool {
	if st.gate(now) {
		return true
	}
	observability.RecordSampleSuppressed(st.name)
	return false
}

// dispatch builds f and hands it to the outbound queue. Unsent datagrams
// are released here and never retried.
func (s *Scheduler) dispatch(st *stream, f skylink.Frame) {
	d, err := skylink.BuildDatagram(s.pool, f)
	if err != nil {
		d.Release()
		s.logger.Debug().Err(err).Str("stream", st.name).Msg("datagram dropped")
		observability.RecordDatagramDropped(st.name, observability.DropAlloc)
		return
	}
	d.SetSeq(st.seq.Add(1) - 1)

	if !s.out.Enqueue(d, s.timeout) {
		d.Release()
		s.logger.Debug().Str("stream", st.name).Uint32("seq", d.Seq()).Msg("outbound queue full, datagram dropped")
		observability.RecordDatagramDropped(st.name, observability.DropEnqueue)
		return
	}
	observability.RecordDatagramBuilt(st.name)
}
