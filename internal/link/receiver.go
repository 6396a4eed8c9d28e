// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"io"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/temoto/alive/v2"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// PacketHandler consumes uplink packets
type PacketHandler interface {
	HandlePacket(p *skylink.Packet) error
}

// Receiver decodes the inbound byte stream and hands uplink packets to a
// PacketHandler. Downlink types seen on the inbound side are ignored.
type Receiver struct {
	r       io.Reader
	bufSize int
	handler PacketHandler
	decoder *skylink.Decoder
	alive   *alive.Alive
	logger  zerolog.Logger

	mu      sync.Mutex
	stats   *skylink.Statistics
	exitErr error
}

func NewReceiver(r io.Reader, bufSize int, handler PacketHandler, logger zerolog.Logger) *Receiver {
	if bufSize < 1 {
		bufSize = 256
	}
	return &Receiver{
		r:       r,
		bufSize: bufSize,
		handler: handler,
		decoder: skylink.NewDecoder(),
		alive:   alive.NewAlive(),
		logger:  logger.With().Str("component", "receiver").Logger(),
		stats:   skylink.NewStatistics(),
	}
}

func (rc *Receiver) Start() error {
	if !rc.alive.Add(1) {
		return errors.Errorf("receiver start after stop")
	}
	go rc.run()
	return nil
}

func (rc *Receiver) run() {
	defer rc.alive.Done()
	buf := make([]byte, rc.bufSize)
	for rc.alive.IsRunning() {
		n, err := rc.r.Read(buf)
		if n > 0 {
			observability.RecordLinkBytes("rx", n)
			rc.feed(buf[:n])
		}
		if err != nil {
			if err != io.EOF && rc.alive.IsRunning() {
				rc.mu.Lock()
				rc.exitErr = errors.Annotate(err, "receiver read")
				rc.mu.Unlock()
				rc.logger.Warn().Err(err).Msg("read failed, receiver exiting")
			}
			rc.alive.Stop()
			return
		}
	}
}

func (rc *Receiver) feed(data []byte) {
	for _, b := range data {
		packet, err := rc.decoder.DecodeByte(b)
		if err != nil {
			rc.record(nil, err)
			rc.logger.Debug().Err(err).Msg("inbound decode error")
			continue
		}
		if packet == nil {
			continue
		}
		rc.record(packet, nil)
		if !packet.IsUplink() {
			rc.logger.Debug().Uint8("type", packet.Type()).Msg("downlink datagram on inbound link ignored")
			continue
		}
		if err := rc.handler.HandlePacket(packet); err != nil {
			rc.logger.Warn().Err(err).Uint8("type", packet.Type()).Msg("uplink packet rejected")
		}
	}
}

func (rc *Receiver) record(p *skylink.Packet, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stats.Update(p, err, nil)
	if p != nil {
		observability.RecordGroundPacket(skylink.StreamName(p.Type()), "ok")
	} else {
		observability.RecordGroundPacket("unknown", "error")
	}
}

// Stats returns a copy of the inbound statistics
func (rc *Receiver) Stats() skylink.Statistics {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	s := *rc.stats
	s.PerType = make(map[uint8]uint64, len(rc.stats.PerType))
	for k, v := range rc.stats.PerType {
		s.PerType[k] = v
	}
	return s
}

// Done is closed when the receive loop has exited
func (rc *Receiver) Done() <-chan struct{} {
	return rc.alive.WaitChan()
}

// Err returns the read error that ended the loop, if any
func (rc *Receiver) Err() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.exitErr
}

// Stop marks the receiver stopped and waits for the loop. A loop blocked in
// Read exits once the underlying reader is closed.
func (rc *Receiver) Stop() {
	rc.alive.Stop()
	rc.alive.Wait()
}
