// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSlabExhausted is returned when every slab of a bounded pool is in use
	ErrSlabExhausted = errors.New("slab pool exhausted")
	// ErrSlabTooSmall is returned when a request exceeds the pool's slab size
	ErrSlabTooSmall = errors.New("request exceeds slab size")
)

// SlabPool hands out buffers of one fixed size class.
//
// All datagrams share the same slab size regardless of their length, which keeps the
// free list uniform. A pool created with a positive count never has more than count
// slabs in use at once.
type SlabPool struct {
	size  int
	limit int

	mu    sync.Mutex
	free  [][]byte
	inUse int
}

// NewSlabPool creates a pool of slabSize buffers. count <= 0 means unbounded.
func NewSlabPool(slabSize, count int) *SlabPool {
	if slabSize <= 0 {
		slabSize = DefaultSlabSize
	}
	p := &SlabPool{size: slabSize, limit: count}
	if count > 0 {
		p.free = make([][]byte, 0, count)
	}
	return p
}

// SlabSize returns the size class of this pool
func (p *SlabPool) SlabSize() int {
	return p.size
}

// InUse returns the number of slabs currently handed out
func (p *SlabPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Get returns a zeroed slab sliced to n bytes
func (p *SlabPool) Get(n int) ([]byte, error) {
	if n > p.size {
		return nil, fmt.Errorf("%w: %d > %d", ErrSlabTooSmall, n, p.size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.inUse >= p.limit {
		return nil, ErrSlabExhausted
	}
	p.inUse++

	var slab []byte
	if last := len(p.free) - 1; last >= 0 {
		slab = p.free[last]
		p.free = p.free[:last]
		clear(slab)
	} else {
		slab = make([]byte, p.size)
	}
	return slab[:n], nil
}

// Put returns a slab obtained from Get
func (p *SlabPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse > 0 {
		p.inUse--
	}
	p.free = append(p.free, buf[:p.size])
}
