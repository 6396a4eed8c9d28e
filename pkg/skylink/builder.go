// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrAllocation is returned by NewBuilder when no buffer could be obtained
var ErrAllocation = errors.New("datagram allocation failed")

// Builder assembles one outbound datagram.
//
// A builder is one-shot: Finalize consumes it. Writes are appended big-endian and
// dropped silently once they would run into the checksum slot. A builder whose
// allocation failed is fail-closed: every write is a no-op and Finalize returns an
// empty Datagram with a nil buffer, Len 0 and a no-op Release.
type Builder struct {
	buf       []byte
	pool      *SlabPool
	cursor    int
	capacity  int // payload region end, the checksum slot follows
	size      int // payloadSize + Overhead, fixed at construction
	crc       uint16
	finalized bool
	err       error
}

// NewBuilder allocates a datagram of payloadSize + Overhead bytes, writes the type tag
// and marker, and seeds the checksum over them.
//
// The returned builder is never nil. If allocation fails the error wraps ErrAllocation
// and the builder is fail-closed. A nil pool allocates an exact-size buffer.
func NewBuilder(pool *SlabPool, payloadSize int, typeTag uint8) (*Builder, error) {
	size := payloadSize + Overhead
	b := &Builder{pool: pool, capacity: size - CRCSize, size: size}

	var err error
	switch {
	case payloadSize < 0:
		err = fmt.Errorf("invalid payload size %d", payloadSize)
	case pool != nil:
		b.buf, err = pool.Get(size)
	default:
		b.buf = make([]byte, size)
	}
	if err != nil {
		b.cursor = b.capacity
		b.err = fmt.Errorf("%w: %w", ErrAllocation, err)
		return b, b.err
	}

	b.Write8(typeTag)
	for _, m := range Marker {
		b.Write8(m)
	}

	b.crc = crcInitial
	for _, v := range b.buf[:HeaderSize] {
		b.crc = CRCUpdate(b.crc, v)
	}
	return b, nil
}

// Err returns the allocation error, if any
func (b *Builder) Err() error {
	return b.err
}

// Len returns the number of bytes written so far
func (b *Builder) Len() int {
	if b.buf == nil {
		return 0
	}
	return b.cursor
}

// reserve returns the slice for the next n bytes, or nil if they do not fit
func (b *Builder) reserve(n int) []byte {
	if b.finalized || b.buf == nil || b.cursor+n > b.capacity {
		return nil
	}
	s := b.buf[b.cursor : b.cursor+n]
	b.cursor += n
	return s
}

// Write8 appends one byte
func (b *Builder) Write8(v uint8) {
	if s := b.reserve(1); s != nil {
		s[0] = v
	}
}

// Write16 appends a big-endian uint16
func (b *Builder) Write16(v uint16) {
	if s := b.reserve(2); s != nil {
		binary.BigEndian.PutUint16(s, v)
	}
}

// Write32 appends a big-endian uint32
func (b *Builder) Write32(v uint32) {
	if s := b.reserve(4); s != nil {
		binary.BigEndian.PutUint32(s, v)
	}
}

// WriteInt32 appends a big-endian two's complement int32
func (b *Builder) WriteInt32(v int32) {
	b.Write32(uint32(v))
}

// WriteFloat32 appends the IEEE-754 bits of v, big-endian
func (b *Builder) WriteFloat32(v float32) {
	b.Write32(math.Float32bits(v))
}

// Finalize folds the checksum over the payload, writes it at the cursor and returns
// the datagram. The datagram is always payloadSize + Overhead bytes: an underfilled
// payload is zero-padded up to the checksum slot first. The builder is consumed:
// later writes are dropped and a second Finalize returns an empty Datagram.
func (b *Builder) Finalize() *Datagram {
	if b.finalized || b.buf == nil {
		b.finalized = true
		return emptyDatagram()
	}
	b.finalized = true

	// zero padding up to the checksum slot
	clear(b.buf[b.cursor:b.capacity])
	b.cursor = b.capacity

	crc := b.crc
	for _, v := range b.buf[HeaderSize:b.cursor] {
		crc = CRCUpdate(crc, v)
	}
	crc = CRCFinalize(crc)

	binary.BigEndian.PutUint16(b.buf[b.cursor:b.size], crc)

	d := &Datagram{buf: b.buf[:b.size], pool: b.pool}
	b.buf = nil
	return d
}
