// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/temoto/alive/v2"

	"github.com/Thermoquad/skylink/internal/observability"
)

// Pump writes queued datagrams to the radio, one write per datagram, and
// releases each one after the write. Transmission is fire-and-forget: a
// failed write is counted and the datagram dropped.
type Pump struct {
	queue  *Queue
	w      io.Writer
	alive  *alive.Alive
	logger zerolog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

func NewPump(q *Queue, w io.Writer, logger zerolog.Logger) *Pump {
	return &Pump{
		queue:  q,
		w:      w,
		alive:  alive.NewAlive(),
		logger: logger.With().Str("component", "pump").Logger(),
	}
}

func (p *Pump) Start() error {
	if !p.alive.Add(1) {
		return errors.Errorf("pump start after stop")
	}
	go p.run()
	return nil
}

func (p *Pump) run() {
	defer p.alive.Done()
	p.logger.Info().Int("depth", p.queue.Cap()).Msg("pump started")
	for {
		select {
		case <-p.alive.StopChan():
			return
		case d := <-p.queue.ch:
			observability.SetQueueDepth(p.queue.Len())
			b := d.Bytes()
			if len(b) == 0 {
				d.Release()
				continue
			}
			n, err := p.w.Write(b)
			d.Release()
			if err == nil && n != len(b) {
				err = io.ErrShortWrite
			}
			if err != nil {
				p.failed.Add(1)
				p.setErr(errors.Annotatef(err, "write datagram type=0x%02X", b[0]))
				p.logger.Warn().Err(err).Int("len", len(b)).Msg("datagram write failed")
				continue
			}
			p.sent.Add(1)
			observability.RecordLinkBytes("tx", n)
		}
	}
}

func (p *Pump) setErr(err error) {
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
}

// Err returns the most recent write error
func (p *Pump) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

func (p *Pump) Sent() uint64   { return p.sent.Load() }
func (p *Pump) Failed() uint64 { return p.failed.Load() }

// Stop waits for the loop to exit, then releases anything still queued
func (p *Pump) Stop() {
	p.alive.Stop()
	p.alive.Wait()
	if n := p.queue.Drain(); n > 0 {
		p.logger.Debug().Int("released", n).Msg("queued datagrams released on stop")
	}
	p.logger.Info().Uint64("sent", p.Sent()).Uint64("failed", p.Failed()).Msg("pump stopped")
}
