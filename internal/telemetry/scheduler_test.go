// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/skylink/internal/config"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

type fakeClock struct {
	now atomic.Uint32
}

func (c *fakeClock) NowMillis() uint32 { return c.now.Load() }
func (c *fakeClock) set(ms uint32)     { c.now.Store(ms) }

type fakeOutbound struct {
	mu       sync.Mutex
	reject   bool
	accepted []*skylink.Datagram
	rejected []*skylink.Datagram
	timeouts []time.Duration
}

func (o *fakeOutbound) Enqueue(d *skylink.Datagram, timeout time.Duration) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timeouts = append(o.timeouts, timeout)
	if o.reject {
		o.rejected = append(o.rejected, d)
		return false
	}
	o.accepted = append(o.accepted, d)
	return true
}

func (o *fakeOutbound) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.accepted)
}

type fakeFlight struct {
	speed, altitude, angle float32
}

func (f fakeFlight) Speed() float32         { return f.speed }
func (f fakeFlight) Altitude() float32      { return f.altitude }
func (f fakeFlight) AirbrakeAngle() float32 { return f.angle }

func newTestScheduler(t *testing.T, pool *skylink.SlabPool) (*Scheduler, *fakeClock, *fakeOutbound) {
	t.Helper()
	clock := &fakeClock{}
	out := &fakeOutbound{}
	flight := fakeFlight{speed: 88.5, altitude: 1200, angle: 12.5}
	s := NewScheduler(config.Default().Telemetry, pool, clock, out, flight, zerolog.Nop())
	return s, clock, out
}

func decodeFrame(t *testing.T, d *skylink.Datagram) skylink.Frame {
	t.Helper()
	p, err := skylink.ParseDatagram(d.Bytes())
	require.NoError(t, err)
	f, err := p.Frame()
	require.NoError(t, err)
	return f
}

func TestStreamGate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		last     uint32
		now      uint32
		interval uint32
		want     bool
	}{
		{"first sample at interval", 0, 20, 20, false},
		{"first sample past interval", 0, 21, 20, true},
		{"inside interval", 100, 110, 20, false},
		{"exactly interval", 100, 120, 20, false},
		{"past interval", 100, 121, 20, true},
		{"across wraparound", math.MaxUint32 - 5, 30, 20, true},
		{"inside wraparound", math.MaxUint32 - 5, 10, 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var s stream
			s.init("test", tt.interval)
			s.last.Store(tt.last)
			assert.Equal(t, tt.want, s.gate(tt.now))
			if tt.want {
				assert.Equal(t, tt.now, s.last.Load())
			} else {
				assert.Equal(t, tt.last, s.last.Load())
			}
		})
	}
}

func TestScheduler_IntervalGating(t *testing.T) {
	t.Parallel()
	s, clock, out := newTestScheduler(t, skylink.NewSlabPool(0, 0))

	clock.set(1000)
	assert.True(t, s.SendGPS(skylink.GPSSample{Sats: 9}))
	clock.set(1050)
	assert.False(t, s.SendGPS(skylink.GPSSample{Sats: 9}))
	clock.set(1100)
	assert.False(t, s.SendGPS(skylink.GPSSample{Sats: 9}))
	clock.set(1101)
	assert.True(t, s.SendGPS(skylink.GPSSample{Sats: 9}))
	clock.set(1300)
	assert.True(t, s.SendGPS(skylink.GPSSample{Sats: 9}))

	assert.Equal(t, 3, out.count())
	for i, d := range out.accepted {
		assert.Equal(t, uint32(i), d.Seq())
	}
}

func TestScheduler_StreamsAreIndependent(t *testing.T) {
	t.Parallel()
	s, clock, out := newTestScheduler(t, nil)

	clock.set(500)
	assert.True(t, s.SendGPS(skylink.GPSSample{}))
	assert.True(t, s.SendMotorPressure(30))
	assert.True(t, s.SendWarning(1, 2, skylink.AvStateArmed))
	assert.True(t, s.SendAirbrakes())
	assert.True(t, s.SendIMU(skylink.IMUSample{}))
	// baro shares the attitude gate with the IMU
	assert.False(t, s.SendBaro(skylink.BaroSample{}))

	require.Equal(t, 5, out.count())
	numbers := make(map[uint32]bool)
	for _, d := range out.accepted {
		numbers[skylink.FramePacketNumber(decodeFrame(t, d))] = true
	}
	assert.Len(t, numbers, 5)
	assert.Equal(t, uint32(5), s.PacketCount())
}

func TestScheduler_AttitudeCombinesLatestSamples(t *testing.T) {
	t.Parallel()
	s, clock, out := newTestScheduler(t, skylink.NewSlabPool(0, 0))

	clock.set(10)
	baro := skylink.BaroSample{Temperature: 21.5, Pressure: 1013.25}
	assert.False(t, s.SendBaro(baro))

	clock.set(40)
	imu := skylink.IMUSample{
		Acceleration: skylink.Vec3{X: 0.1, Y: 0.2, Z: 9.81},
		Euler:        skylink.Vec3{X: 1, Y: 2, Z: 3},
	}
	require.True(t, s.SendIMU(imu))
	require.Equal(t, 1, out.count())

	f, ok := decodeFrame(t, out.accepted[0]).(*skylink.AttitudeFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(40), f.Timestamp)
	assert.Equal(t, uint32(0), f.PacketNumber)
	assert.Equal(t, imu.Acceleration, f.Acceleration)
	assert.Equal(t, imu.Euler, f.Euler)
	assert.Equal(t, baro.Temperature, f.BaroTemperature)
	assert.Equal(t, baro.Pressure, f.BaroPressure)
	assert.Equal(t, float32(88.5), f.Speed)
	assert.Equal(t, float32(1200), f.Altitude)
}

func TestScheduler_MotorCarriesTimestampThenPressure(t *testing.T) {
	t.Parallel()
	s, clock, out := newTestScheduler(t, nil)

	clock.set(4242)
	require.True(t, s.SendMotorPressure(55.5))
	require.Equal(t, 1, out.count())

	wire := out.accepted[0].Bytes()
	payload := wire[skylink.HeaderSize : len(wire)-skylink.CRCSize]
	assert.Equal(t, uint32(4242), binary.BigEndian.Uint32(payload[0:4]))
	assert.Equal(t, float32(55.5), math.Float32frombits(binary.BigEndian.Uint32(payload[8:12])))
}

func TestScheduler_AirbrakesAndWarning(t *testing.T) {
	t.Parallel()
	s, clock, out := newTestScheduler(t, nil)

	clock.set(1000)
	require.True(t, s.SendAirbrakes())
	require.True(t, s.SendWarning(7, 3.5, skylink.AvStateCoast))
	require.Equal(t, 2, out.count())

	ab, ok := decodeFrame(t, out.accepted[0]).(*skylink.AirbrakesFrame)
	require.True(t, ok)
	assert.Equal(t, float32(12.5), ab.Angle)

	st, ok := decodeFrame(t, out.accepted[1]).(*skylink.StatusFrame)
	require.True(t, ok)
	assert.Equal(t, uint8(7), st.ID)
	assert.Equal(t, float32(3.5), st.Value)
	assert.Equal(t, skylink.AvStateCoast, st.AvState)
	assert.Equal(t, uint32(1000), st.Timestamp)
}

func TestScheduler_EnqueueFailureReleases(t *testing.T) {
	t.Parallel()
	pool := skylink.NewSlabPool(0, 2)
	s, clock, out := newTestScheduler(t, pool)
	out.reject = true

	clock.set(1000)
	assert.True(t, s.SendGPS(skylink.GPSSample{}))
	clock.set(1050)
	// gate still advances when the queue rejects
	assert.False(t, s.SendGPS(skylink.GPSSample{}))
	assert.True(t, s.SendMotorPressure(1))

	require.Len(t, out.rejected, 2)
	for _, d := range out.rejected {
		assert.True(t, d.Empty())
	}
	assert.Zero(t, pool.InUse())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, out.timeouts)
}

func TestScheduler_AllocationFailureDrops(t *testing.T) {
	t.Parallel()
	pool := skylink.NewSlabPool(0, 1)
	hold, err := pool.Get(skylink.DefaultSlabSize)
	require.NoError(t, err)

	s, clock, out := newTestScheduler(t, pool)
	clock.set(1000)
	assert.True(t, s.SendGPS(skylink.GPSSample{}))
	assert.Zero(t, out.count())
	assert.Empty(t, out.timeouts)

	pool.Put(hold)
	clock.set(2000)
	assert.True(t, s.SendGPS(skylink.GPSSample{}))
	assert.Equal(t, 1, out.count())
}

func TestScheduler_ConcurrentProducers(t *testing.T) {
	t.Parallel()
	s, clock, out := newTestScheduler(t, skylink.NewSlabPool(0, 0))
	clock.set(5000)

	var sent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.SendIMU(skylink.IMUSample{}) {
				sent.Add(1)
			}
			if s.SendBaro(skylink.BaroSample{}) {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sent.Load())
	assert.Equal(t, 1, out.count())
}
