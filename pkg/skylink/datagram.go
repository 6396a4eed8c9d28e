// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import "sync/atomic"

// Datagram is one finalized, checksummed packet that owns its buffer.
//
// Ownership moves with the pointer: the producer owns it until a queue accepts it, and
// whoever holds it last calls Release. Release is safe to call more than once.
type Datagram struct {
	buf      []byte
	pool     *SlabPool
	seq      uint32
	released atomic.Bool
}

// emptyDatagram is returned when a builder could not produce a packet
func emptyDatagram() *Datagram {
	d := &Datagram{}
	d.released.Store(true)
	return d
}

// Bytes returns the wire bytes of the datagram (nil once released)
func (d *Datagram) Bytes() []byte {
	if d.released.Load() {
		return nil
	}
	return d.buf
}

// Len returns the final size of the datagram
func (d *Datagram) Len() int {
	return len(d.Bytes())
}

// Empty returns true if the datagram carries no bytes
func (d *Datagram) Empty() bool {
	return d.Len() == 0
}

// Type returns the datagram's type tag
func (d *Datagram) Type() uint8 {
	b := d.Bytes()
	if len(b) == 0 {
		return 0
	}
	return b[typeTagIndex]
}

// Seq returns the stream sequence number the datagram was built with.
// The sequence number is local metadata and is not transmitted.
func (d *Datagram) Seq() uint32 {
	return d.seq
}

// SetSeq records the stream sequence number
func (d *Datagram) SetSeq(seq uint32) {
	d.seq = seq
}

// Release returns the buffer to its pool. Only the first call has an effect.
func (d *Datagram) Release() {
	if d.released.Swap(true) {
		return
	}
	if d.pool != nil && d.buf != nil {
		d.pool.Put(d.buf)
	}
	d.buf = nil
}
